package converter

import "github.com/usnistgov/multiadc/ringbuffer"

// Waveform synthesizes the value a simulated converter reads on an input.
type Waveform interface {
	Sample(converter int, input uint8, cycle uint64) ringbuffer.RawType
}

// WaveformFunc adapts a function to the Waveform interface.
type WaveformFunc func(converter int, input uint8, cycle uint64) ringbuffer.RawType

// Sample calls f.
func (f WaveformFunc) Sample(converter int, input uint8, cycle uint64) ringbuffer.RawType {
	return f(converter, input, cycle)
}

// Triangle synthesizes triangle waves between min and max, each input shifted
// in phase so channels are told apart.
type Triangle struct {
	onecycle []ringbuffer.RawType
}

// NewTriangle creates a Triangle with given min/max.
func NewTriangle(min, max ringbuffer.RawType) *Triangle {
	if max <= min {
		return &Triangle{onecycle: []ringbuffer.RawType{min}}
	}
	nrise := max - min
	tw := &Triangle{onecycle: make([]ringbuffer.RawType, 2*int(nrise))}
	var i ringbuffer.RawType
	for i = 0; i < nrise; i++ {
		tw.onecycle[i] = min + i
		tw.onecycle[int(i)+int(nrise)] = max - i
	}
	return tw
}

// Sample returns the wave value for an input at a conversion cycle.
func (tw *Triangle) Sample(converter int, input uint8, cycle uint64) ringbuffer.RawType {
	n := uint64(len(tw.onecycle))
	phase := uint64(input) * n / (MaxInput + 1)
	return tw.onecycle[(cycle+phase)%n]
}
