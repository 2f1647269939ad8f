// Package converter describes a block of synchronized analog-to-digital
// converters sharing one DMA stream: programming each converter's register
// image, binding the DMA stream to a sample buffer, arming and triggering, and
// the interrupt callbacks the block raises on transfer boundaries and faults.
//
// Converter 0 is always the master of the block; the others are slaves that
// convert in lock-step with it. Exports the Block interface for general use,
// and Simulated, a software block with no hardware behind it.
package converter

import (
	"fmt"

	"github.com/usnistgov/multiadc/ringbuffer"
)

// Fault is a hardware fault raised from the block's interrupt context.
type Fault int

// Faults a converter block can raise.
const (
	FaultOverrun  Fault = iota // a conversion finished before the previous one was transferred
	FaultTransfer              // the DMA stream reported a transfer error
)

func (f Fault) String() string {
	switch f {
	case FaultOverrun:
		return "converter overrun"
	case FaultTransfer:
		return "DMA transfer error"
	}
	return fmt.Sprintf("Fault(%d)", int(f))
}

// Handler receives the interrupt callbacks of a block. Implementations run in
// interrupt context and must neither block nor allocate.
type Handler interface {
	HalfTransfer()
	FullTransfer()
	Fault(f Fault)
}

// DMATarget is where the DMA stream deposits samples, in conversion order.
type DMATarget interface {
	Put(v ringbuffer.RawType) ringbuffer.Event
}

// Status is the state of one converter as the hardware reports it.
type Status struct {
	Busy  bool // a conversion sequence is active or the converter is claimed
	Armed bool
	Fault bool
}

// Block is a set of converters acquiring in lock-step.
type Block interface {
	// Converters returns how many converters the block holds.
	Converters() int
	// Status reports the state of converter i.
	Status(i int) (Status, error)
	// Program loads the register image of converter i.
	Program(i int, regs Registers) error
	// SetCommon loads the common control word shared by all converters.
	SetCommon(ccr uint32) error
	// BindDMA directs the DMA stream into target and callbacks to h.
	BindDMA(target DMATarget, h Handler) error
	// Arm enables converter i so it starts converting when triggered.
	Arm(i int) error
	// Trigger issues the master's start of conversion.
	Trigger() error
	// Disarm requests converter i stop at the end of its current sequence.
	Disarm(i int) error
	// Armed reports whether converter i is still converting.
	Armed(i int) bool
	// Close releases the block.
	Close() error
}

// PinConfigurer puts converter inputs into analog mode.
type PinConfigurer interface {
	SetAnalog(input uint8) error
}
