// Package packets encodes and decodes the binary frames in which buffer
// regions are sent to a host: a fixed big-endian header followed by the
// region's samples as little-endian uint16 values.
package packets

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/usnistgov/multiadc/getbytes"
)

// PACKETMAGIC is the packet header's magic number.
const PACKETMAGIC uint32 = 0x08ff00ad

// Version is the header version written by Encode.
const Version uint8 = 1

// HeaderLength is the size in bytes of the header written by Encode.
const HeaderLength = 32

// Header flag bits.
const (
	FlagFull uint16 = 1 << 0 // region ends at the end of the buffer
)

// Header is the header of one frame, in wire order.
type Header struct {
	Version       uint8
	HeaderLength  uint8
	Converters    uint8
	Stride        uint8 // channels per converter
	Magic         uint32
	SourceID      uint16
	Flags         uint16
	Sequence      uint32 // generation counter of the region
	Offset        uint32 // first buffer slot of the region
	PayloadLength uint32 // bytes
	Index         uint64 // samples sent before this frame
}

// Frame is a decoded header and its samples.
type Frame struct {
	Header
	Samples []uint16
}

// Full returns true if the frame carries the last region of the buffer.
func (h *Header) Full() bool {
	return h.Flags&FlagFull != 0
}

// Encode appends the encoded frame to dst and returns the result.
func Encode[T ~uint16](dst []byte, h Header, samples []T) []byte {
	h.Version = Version
	h.HeaderLength = HeaderLength
	h.Magic = PACKETMAGIC
	h.PayloadLength = uint32(2 * len(samples))
	buf := bytes.NewBuffer(dst)
	// Writing a fixed-size struct to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.BigEndian, &h)
	buf.Write(getbytes.FromSlice(samples))
	return buf.Bytes()
}

// ReadHeader returns a Header read from an io.Reader
func ReadHeader(data io.Reader) (h *Header, err error) {
	h = new(Header)
	if err = binary.Read(data, binary.BigEndian, h); err != nil {
		return nil, err
	}
	if h.Magic != PACKETMAGIC {
		return nil, fmt.Errorf("Magic was 0x%x, want 0x%x", h.Magic, PACKETMAGIC)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("Header version is %d, expect %d", h.Version, Version)
	}
	if h.HeaderLength < HeaderLength {
		return nil, fmt.Errorf("Header length is %d, expect at least %d", h.HeaderLength, HeaderLength)
	}
	if h.PayloadLength%2 != 0 {
		return nil, fmt.Errorf("Header payload length is %d, expect multiple of 2", h.PayloadLength)
	}
	// Skip header extensions this version does not know.
	if extra := int64(h.HeaderLength) - HeaderLength; extra > 0 {
		if _, err = io.CopyN(io.Discard, data, extra); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ReadFrame reads one frame, header and payload, from an io.Reader.
func ReadFrame(data io.Reader) (*Frame, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.PayloadLength)
	if _, err := io.ReadFull(data, payload); err != nil {
		return nil, err
	}
	f := &Frame{Header: *h, Samples: make([]uint16, len(payload)/2)}
	for i := range f.Samples {
		f.Samples[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return f, nil
}
