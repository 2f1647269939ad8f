package report

import (
	"context"
	"io"

	"github.com/usnistgov/multiadc/packets"
)

// BinaryReporter writes each frame as one binary packet.
type BinaryReporter struct {
	w        io.Writer
	sourceID uint16
	buf      []byte
}

// NewBinaryReporter creates a BinaryReporter writing packets tagged with
// sourceID to w. If w is an io.Closer it is closed by Close.
func NewBinaryReporter(w io.Writer, sourceID uint16) *BinaryReporter {
	return &BinaryReporter{w: w, sourceID: sourceID}
}

// Header returns the packet header describing f.
func Header(f Frame, sourceID uint16) packets.Header {
	h := packets.Header{
		Converters: uint8(f.Converters),
		Stride:     uint8(f.Stride),
		SourceID:   sourceID,
		Sequence:   uint32(f.Generation),
		Offset:     uint32(f.Offset),
		Index:      f.Index,
	}
	if f.Full {
		h.Flags |= packets.FlagFull
	}
	return h
}

// Report encodes and writes f.
func (br *BinaryReporter) Report(ctx context.Context, f Frame) error {
	br.buf = packets.Encode(br.buf[:0], Header(f, br.sourceID), f.Samples)
	_, err := br.w.Write(br.buf)
	return maskAny(err)
}

// Close closes the underlying writer, if it can be closed.
func (br *BinaryReporter) Close() error {
	if c, ok := br.w.(io.Closer); ok {
		return maskAny(c.Close())
	}
	return nil
}
