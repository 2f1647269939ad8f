package report

import (
	"context"
	"fmt"
	"io"
)

// TextReporter writes each frame as one console line: the running sample
// count, then every sample in buffer order.
//
//	\r\n     12: 4095,  113,  527, ...
type TextReporter struct {
	w   io.Writer
	buf []byte
}

// NewTextReporter creates a TextReporter writing to w. If w is an io.Closer it
// is closed by Close.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

// Report formats and writes f.
func (tr *TextReporter) Report(ctx context.Context, f Frame) error {
	tr.buf = fmt.Appendf(tr.buf[:0], "\r\n%8d: ", f.Index+uint64(len(f.Samples)))
	for _, v := range f.Samples {
		tr.buf = fmt.Appendf(tr.buf, "%4d, ", v)
	}
	_, err := tr.w.Write(tr.buf)
	return maskAny(err)
}

// Close closes the underlying writer, if it can be closed.
func (tr *TextReporter) Close() error {
	if c, ok := tr.w.(io.Closer); ok {
		return maskAny(c.Close())
	}
	return nil
}
