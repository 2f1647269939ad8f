package report

import (
	"context"
	"sync/atomic"

	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/usnistgov/multiadc/packets"
)

// ZMQReporter publishes each frame as a two-part message on a PUB socket: a
// tag, then the binary packet. Subscribers filter on the tag.
type ZMQReporter struct {
	socket   *zmq.Socket
	tag      []byte
	sourceID uint16
	buf      []byte
	dropped  atomic.Uint64
}

// NewZMQReporter binds a PUB socket to endpoint, e.g. "tcp://*:5502".
func NewZMQReporter(endpoint, tag string, sourceID uint16) (*ZMQReporter, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create PUB socket")
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, maskAny(err)
	}
	if err := socket.Bind(endpoint); err != nil {
		socket.Close()
		return nil, errors.Wrapf(err, "cannot bind PUB socket to %s", endpoint)
	}
	return &ZMQReporter{socket: socket, tag: []byte(tag), sourceID: sourceID}, nil
}

// Report publishes f without blocking. A frame the socket cannot take is
// dropped and counted.
func (zr *ZMQReporter) Report(ctx context.Context, f Frame) error {
	zr.buf = packets.Encode(zr.buf[:0], Header(f, zr.sourceID), f.Samples)
	if _, err := zr.socket.SendBytes(zr.tag, zmq.SNDMORE|zmq.DONTWAIT); err != nil {
		zr.dropped.Add(1)
		return errors.Wrap(err, "cannot publish frame tag")
	}
	if _, err := zr.socket.SendBytes(zr.buf, zmq.DONTWAIT); err != nil {
		zr.dropped.Add(1)
		return errors.Wrap(err, "cannot publish frame")
	}
	return nil
}

// Dropped returns the number of frames the socket refused.
func (zr *ZMQReporter) Dropped() uint64 {
	return zr.dropped.Load()
}

// Close closes the socket.
func (zr *ZMQReporter) Close() error {
	return maskAny(zr.socket.Close())
}
