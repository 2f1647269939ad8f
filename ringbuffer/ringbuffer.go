// Package ringbuffer provides the circular sample buffer shared between the
// converter DMA producer and a single consumer.
//
// The producer side (Put, Commit) runs in interrupt context: it never blocks,
// never allocates and touches only atomics and its own slots. The consumer side
// (ReadyRegion, Release, Samples, CopyRegion) must be used from one goroutine.
// The write cursor counts every sample ever written, so the buffer can tell how
// far the producer has run past any region the consumer has not released yet.
package ringbuffer

import (
	"fmt"
	"sync/atomic"
)

// RawType is the storage type of one converter sample (12 significant bits).
type RawType uint16

// Event tells the producer which transfer boundary, if any, a sample crossed.
type Event int

// Transfer boundaries reported by Put.
const (
	EventNone Event = iota
	EventHalf
	EventFull
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventHalf:
		return "half"
	case EventFull:
		return "full"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Region is one completed, read-ready part of the buffer.
type Region struct {
	Seq        uint64 // 0-based count of completed regions
	Generation uint64 // generation counter value when the region completed
	Offset     int    // first slot
	Len        int    // number of slots
	Kind       Event  // EventHalf or EventFull
}

// End returns the slot just past the region.
func (r Region) End() int {
	return r.Offset + r.Len
}

// OverrunError reports regions the producer overwrote before they were consumed.
type OverrunError struct {
	Generation uint64
	Lost       uint64
}

func (e OverrunError) Error() string {
	return fmt.Sprintf("ringbuffer overrun at generation %d: %d region(s) lost", e.Generation, e.Lost)
}

// RingBuffer is the fixed-size circular sample store.
type RingBuffer struct {
	storage    []RawType
	capacity   uint64
	regionSize uint64
	regions    uint64

	written    atomic.Uint64 // samples ever written, owned by the producer
	generation atomic.Uint64 // completed regions, owned by the producer

	next atomic.Uint64 // sequence number of the next region to consume
	lost atomic.Uint64 // regions skipped because of overrun
}

// NewRingBuffer allocates a buffer of capacity samples split into the given
// number of equally sized regions (2 for half/full transfers, 1 for a single
// full transfer).
func NewRingBuffer(capacity, regions int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuffer capacity %d must be positive", capacity)
	}
	if regions != 1 && regions != 2 {
		return nil, fmt.Errorf("ringbuffer regions %d must be 1 or 2", regions)
	}
	if capacity%regions != 0 {
		return nil, fmt.Errorf("ringbuffer capacity %d is not a multiple of %d regions", capacity, regions)
	}
	rb := &RingBuffer{
		storage:    make([]RawType, capacity),
		capacity:   uint64(capacity),
		regions:    uint64(regions),
		regionSize: uint64(capacity / regions),
	}
	return rb, nil
}

// Capacity returns the number of sample slots.
func (rb *RingBuffer) Capacity() int {
	return int(rb.capacity)
}

// RegionSize returns the number of slots in each region.
func (rb *RingBuffer) RegionSize() int {
	return int(rb.regionSize)
}

// Regions returns how many regions one lap of the buffer holds.
func (rb *RingBuffer) Regions() int {
	return int(rb.regions)
}

// Put stores one sample at the write cursor and advances it. The returned event
// is EventHalf or EventFull when the sample completes a region.
func (rb *RingBuffer) Put(v RawType) Event {
	w := rb.written.Load()
	rb.storage[w%rb.capacity] = v
	w++
	rb.written.Store(w)
	if w%rb.regionSize != 0 {
		return EventNone
	}
	if (w/rb.regionSize)%rb.regions == 0 {
		return EventFull
	}
	return EventHalf
}

// Commit publishes the next completed region to the consumer and returns it.
func (rb *RingBuffer) Commit() Region {
	g := rb.generation.Add(1)
	return rb.region(g - 1)
}

func (rb *RingBuffer) region(seq uint64) Region {
	slot := seq % rb.regions
	kind := EventHalf
	if slot == rb.regions-1 {
		kind = EventFull
	}
	return Region{
		Seq:        seq,
		Generation: seq + 1,
		Offset:     int(slot * rb.regionSize),
		Len:        int(rb.regionSize),
		Kind:       kind,
	}
}

// intact reports whether region seq has not been written over, given cursor w.
func (rb *RingBuffer) intact(seq, w uint64) bool {
	return w <= seq*rb.regionSize+rb.capacity
}

// ReadyRegion returns the oldest committed region not yet released. When the
// producer lapped one or more unconsumed regions they are skipped and an
// OverrunError is returned instead; the following call returns the next intact
// region.
func (rb *RingBuffer) ReadyRegion() (Region, bool, error) {
	g := rb.generation.Load()
	next := rb.next.Load()
	if next >= g {
		return Region{}, false, nil
	}
	w := rb.written.Load()
	if rb.intact(next, w) {
		return rb.region(next), true, nil
	}
	first := next
	for first < g && !rb.intact(first, w) {
		first++
	}
	lost := first - next
	rb.next.Store(first)
	rb.lost.Add(lost)
	return Region{}, false, OverrunError{Generation: g, Lost: lost}
}

// Release marks r consumed. It returns an OverrunError if the producer wrote
// over r while it was held, in which case anything read from r is invalid.
func (rb *RingBuffer) Release(r Region) error {
	next := rb.next.Load()
	if r.Seq != next {
		return fmt.Errorf("ringbuffer release of region %d, but region %d is the oldest held", r.Seq, next)
	}
	rb.next.Store(next + 1)
	if !rb.intact(r.Seq, rb.written.Load()) {
		rb.lost.Add(1)
		return OverrunError{Generation: rb.generation.Load(), Lost: 1}
	}
	return nil
}

// Samples returns a read-only view of the storage behind r. The contents are
// only valid if the subsequent Release succeeds.
func (rb *RingBuffer) Samples(r Region) []RawType {
	return rb.storage[r.Offset:r.End():r.End()]
}

// CopyRegion copies the samples of r into dst and returns the count copied.
func (rb *RingBuffer) CopyRegion(dst []RawType, r Region) int {
	return copy(dst, rb.Samples(r))
}

// Generation returns the number of regions committed so far.
func (rb *RingBuffer) Generation() uint64 {
	return rb.generation.Load()
}

// Written returns the number of samples written so far.
func (rb *RingBuffer) Written() uint64 {
	return rb.written.Load()
}

// Pending returns the number of committed regions not yet released.
func (rb *RingBuffer) Pending() uint64 {
	g := rb.generation.Load()
	n := rb.next.Load()
	if n >= g {
		return 0
	}
	return g - n
}

// Lost returns the number of regions lost to overruns.
func (rb *RingBuffer) Lost() uint64 {
	return rb.lost.Load()
}
