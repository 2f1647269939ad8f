// Package unboundedchan provides a queue that never blocks its sender, with
// data entered and removed via channels.
package unboundedchan

// UnboundedChannel is a FIFO queue fed through In and drained through Out.
// Use pointers or small values for T: queued items are held by value.
type UnboundedChannel[T any] struct {
	in    chan T
	out   chan T
	queue []T
}

// NewUnboundedChannel creates an UnboundedChannel and starts its pump goroutine.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	defer close(uc.out)
	for {
		if len(uc.queue) == 0 {
			val, ok := <-uc.in
			if !ok {
				return
			}
			uc.queue = append(uc.queue, val)
			continue
		}
		select {
		case uc.out <- uc.queue[0]:
			var zero T
			uc.queue[0] = zero
			uc.queue = uc.queue[1:]
		case val, ok := <-uc.in:
			if !ok {
				// Input closed: deliver what is queued, then close Out.
				for _, item := range uc.queue {
					uc.out <- item
				}
				uc.queue = nil
				return
			}
			uc.queue = append(uc.queue, val)
		}
	}
}

// In returns the input channel for sending data. Close it to end the queue.
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel for receiving data. It is closed once In is
// closed and every queued item was received.
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Close closes the input channel.
func (uc *UnboundedChannel[T]) Close() {
	close(uc.in)
}
