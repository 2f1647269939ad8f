// Package getbytes converts slices of fixed-size numbers to []byte, in host
// byte order, without copying.
package getbytes

import (
	"unsafe"
)

// Number is any fixed-size integer or float type.
type Number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// FromSlice converts a []T to []byte using unsafe. The result aliases d.
func FromSlice[T Number](d []T) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(d)) * unsafe.Sizeof(d[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), outlength)
}

// FromSliceUint16 convert a []uint16 to []byte using unsafe
func FromSliceUint16(d []uint16) []byte {
	return FromSlice(d)
}

// FromUint32 converts a uint32 to []byte using unsafe
func FromUint32(d uint32) []byte {
	return FromSlice([]uint32{d})
}
