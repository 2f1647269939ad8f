// Package report forwards completed buffer regions to the outside world: a
// serial console in the firmware's text format, binary frames over any
// io.Writer, a ZMQ PUB socket, or a growing .npy capture file.
package report

import (
	"context"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/usnistgov/multiadc/ringbuffer"
)

// Frame is one buffer region handed to a Reporter. Samples is only valid for
// the duration of the Report call.
type Frame struct {
	Generation uint64
	Seq        uint64
	Offset     int
	Full       bool   // region ends at the end of the buffer
	Index      uint64 // samples reported before this frame
	Converters int
	Stride     int // channels per converter
	Samples    []ringbuffer.RawType
}

// Width returns the number of samples per conversion cycle.
func (f Frame) Width() int {
	return f.Converters * f.Stride
}

// Reporter sends frames somewhere.
type Reporter interface {
	Report(ctx context.Context, f Frame) error
	Close() error
}

// Multi fans every frame out to all its reporters.
type Multi []Reporter

// Report sends f to every reporter and returns the combined errors.
func (m Multi) Report(ctx context.Context, f Frame) error {
	var ae aerr.AggregateError
	for _, r := range m {
		if err := r.Report(ctx, f); err != nil {
			ae.Add(err)
		}
	}
	return ae.AsError()
}

// Close closes every reporter and returns the combined errors.
func (m Multi) Close() error {
	var ae aerr.AggregateError
	for _, r := range m {
		if err := r.Close(); err != nil {
			ae.Add(err)
		}
	}
	return ae.AsError()
}

// Discard drops every frame.
type Discard struct{}

// Report does nothing.
func (Discard) Report(context.Context, Frame) error { return nil }

// Close does nothing.
func (Discard) Close() error { return nil }

var maskAny = errors.WithStack
