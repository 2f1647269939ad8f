package ringbuffer

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingBufferErrors(t *testing.T) {
	bad := []struct{ capacity, regions int }{
		{0, 2}, {-4, 2}, {5, 2}, {8, 3}, {8, 0},
	}
	for _, b := range bad {
		if _, err := NewRingBuffer(b.capacity, b.regions); err == nil {
			t.Errorf("NewRingBuffer(%d, %d) succeeded, want error", b.capacity, b.regions)
		}
	}
	rb, err := NewRingBuffer(24, 2)
	require.NoError(t, err)
	assert.Equal(t, 24, rb.Capacity())
	assert.Equal(t, 12, rb.RegionSize())
	assert.Equal(t, 2, rb.Regions())
}

// fill writes n consecutive values starting at first, committing every region
// it completes, and returns the events seen.
func fill(rb *RingBuffer, first, n int) []Event {
	var events []Event
	for i := 0; i < n; i++ {
		ev := rb.Put(RawType(first + i))
		if ev != EventNone {
			rb.Commit()
			events = append(events, ev)
		}
	}
	return events
}

func TestOneLapEvents(t *testing.T) {
	rb, err := NewRingBuffer(24, 2)
	require.NoError(t, err)
	for i := 0; i < 24; i++ {
		ev := rb.Put(RawType(i))
		want := EventNone
		switch i {
		case 11:
			want = EventHalf
		case 23:
			want = EventFull
		}
		if ev != want {
			t.Errorf("Put #%d returned %v, want %v", i, ev, want)
		}
	}
	assert.Equal(t, uint64(24), rb.Written())

	// Many laps give exactly one half and one full per lap.
	rb, _ = NewRingBuffer(8, 2)
	events := fill(rb, 0, 8*5)
	require.Len(t, events, 10)
	for i, ev := range events {
		if i%2 == 0 {
			assert.Equal(t, EventHalf, ev)
		} else {
			assert.Equal(t, EventFull, ev)
		}
	}
	assert.Equal(t, uint64(10), rb.Generation())
}

func TestRegionsInOrder(t *testing.T) {
	rb, err := NewRingBuffer(24, 2)
	require.NoError(t, err)
	fill(rb, 100, 24)
	assert.Equal(t, uint64(2), rb.Generation())
	assert.Equal(t, uint64(2), rb.Pending())

	r, ok, err := rb.ReadyRegion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, r.Offset)
	assert.Equal(t, 12, r.Len)
	assert.Equal(t, EventHalf, r.Kind)
	assert.Equal(t, uint64(1), r.Generation)
	samples := rb.Samples(r)
	for i, v := range samples {
		if v != RawType(100+i) {
			t.Errorf("Samples(first)[%d] = %d, want %d", i, v, 100+i)
		}
	}
	// The same region is returned until released.
	again, ok, _ := rb.ReadyRegion()
	assert.True(t, ok)
	assert.Equal(t, r, again)
	require.NoError(t, rb.Release(r))

	r, ok, err = rb.ReadyRegion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12, r.Offset)
	assert.Equal(t, EventFull, r.Kind)
	dst := make([]RawType, 12)
	assert.Equal(t, 12, rb.CopyRegion(dst, r))
	assert.Equal(t, RawType(112), dst[0])
	require.NoError(t, rb.Release(r))

	_, ok, err = rb.ReadyRegion()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), rb.Pending())
	assert.Equal(t, uint64(0), rb.Lost())
}

func TestOverrunSkipsLappedRegions(t *testing.T) {
	rb, err := NewRingBuffer(8, 2)
	require.NoError(t, err)
	fill(rb, 0, 9)

	_, ok, err := rb.ReadyRegion()
	assert.False(t, ok)
	var over OverrunError
	require.True(t, errors.As(err, &over), "ReadyRegion after a lap returned %v, want OverrunError", err)
	assert.Equal(t, uint64(1), over.Lost)
	assert.Equal(t, uint64(2), over.Generation)

	r, ok, err := rb.ReadyRegion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, r.Offset)
	assert.Equal(t, []RawType{4, 5, 6, 7}, rb.Samples(r))
	require.NoError(t, rb.Release(r))

	fill(rb, 9, 8)
	_, ok, err = rb.ReadyRegion()
	assert.False(t, ok)
	require.True(t, errors.As(err, &over))
	assert.Equal(t, uint64(1), over.Lost)
	r, ok, err = rb.ReadyRegion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), r.Seq)
	assert.Equal(t, []RawType{12, 13, 14, 15}, rb.Samples(r))
	assert.Equal(t, uint64(2), rb.Lost())

	rb, _ = NewRingBuffer(8, 2)
	fill(rb, 0, 16)
	_, _, err = rb.ReadyRegion()
	require.True(t, errors.As(err, &over))
	assert.Equal(t, uint64(2), over.Lost)
	r, ok, _ = rb.ReadyRegion()
	require.True(t, ok)
	assert.Equal(t, uint64(2), r.Seq)
	assert.Equal(t, []RawType{8, 9, 10, 11}, rb.Samples(r))
}

func TestReleaseDetectsOverwrite(t *testing.T) {
	rb, err := NewRingBuffer(8, 2)
	require.NoError(t, err)
	fill(rb, 0, 4)
	r, ok, err := rb.ReadyRegion()
	require.NoError(t, err)
	require.True(t, ok)

	fill(rb, 4, 5) // overwrites slot 0 while r is held
	err = rb.Release(r)
	var over OverrunError
	require.True(t, errors.As(err, &over), "Release after overwrite returned %v, want OverrunError", err)
	assert.Equal(t, uint64(1), rb.Lost())

	// Releasing a region that is not the oldest held fails.
	r, ok, _ = rb.ReadyRegion()
	require.True(t, ok)
	r.Seq++
	assert.Error(t, rb.Release(r))
}

func TestSingleRegion(t *testing.T) {
	rb, err := NewRingBuffer(6, 1)
	require.NoError(t, err)
	events := fill(rb, 0, 6)
	assert.Equal(t, []Event{EventFull}, events)
	r, ok, err := rb.ReadyRegion()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Region{Seq: 0, Generation: 1, Offset: 0, Len: 6, Kind: EventFull}, r)
}

func TestConcurrentHandOff(t *testing.T) {
	const capacity = 64
	const laps = 200
	rb, err := NewRingBuffer(capacity, 2)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < capacity*laps; i++ {
			if rb.Put(RawType(i&0xfff)) != EventNone {
				rb.Commit()
				// Hold off until the region about to be reused has been released.
				for rb.Pending() > 1 {
					runtime.Gosched()
				}
			}
		}
	}()

	expect := 0
	for expect < capacity*laps {
		r, ok, err := rb.ReadyRegion()
		require.NoError(t, err)
		if !ok {
			runtime.Gosched()
			continue
		}
		for _, v := range rb.Samples(r) {
			if v != RawType(expect&0xfff) {
				t.Fatalf("sample %d = %d, want %d", expect, v, expect&0xfff)
			}
			expect++
		}
		require.NoError(t, rb.Release(r))
	}
	<-done
	assert.Equal(t, uint64(2*laps), rb.Generation())
	assert.Equal(t, uint64(0), rb.Lost())
}
