// Package asyncbufio provides a buffered writer that never blocks its caller:
// writes are queued to a goroutine that owns the underlying io.Writer, and a
// write that finds the queue full is dropped and counted.
package asyncbufio

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by operations on a closed Writer.
var ErrClosed = errors.New("asyncbufio: writer closed")

// Writer provides asynchronous writing to an underlying io.Writer using buffered channels.
type Writer struct {
	writer        *bufio.Writer      // Buffered writer: this does the writing
	datachannel   chan []byte        // Channel to hold data before writing it
	flushRequest  chan chan struct{} // Channel to ask the writeLoop for a flush
	quit          chan struct{}      // Closed by Close
	finished      chan struct{}      // Closed when the writeLoop exits
	flushInterval time.Duration      // Interval for flushing the writer periodically
	closeOnce     sync.Once
	closed        atomic.Bool
	dropped       atomic.Uint64
	errLock       sync.Mutex
	err           error // first error of the underlying writer
}

// NewWriter creates a new Writer instance.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushRequest:  make(chan chan struct{}),
		quit:          make(chan struct{}),
		finished:      make(chan struct{}),
		flushInterval: flushInterval,
	}

	go aw.writeLoop()
	return aw
}

// Write queues a copy of p for later writing. If the queue is full, p is
// dropped and io.ErrShortWrite returned.
func (aw *Writer) Write(p []byte) (int, error) {
	if aw.closed.Load() {
		return 0, ErrClosed
	}
	data := append([]byte(nil), p...)
	select {
	case aw.datachannel <- data:
		return len(p), nil
	default:
		aw.dropped.Add(1)
		return 0, io.ErrShortWrite
	}
}

// WriteString queues s for later writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Dropped returns the number of writes dropped because the queue was full.
func (aw *Writer) Dropped() uint64 {
	return aw.dropped.Load()
}

// Err returns the first error of the underlying writer, if any.
func (aw *Writer) Err() error {
	aw.errLock.Lock()
	defer aw.errLock.Unlock()
	return aw.err
}

// Flush writes everything queued so far to the underlying writer.
// Blocks until the flush is complete.
func (aw *Writer) Flush() error {
	done := make(chan struct{})
	select {
	case aw.flushRequest <- done:
		<-done
		return aw.Err()
	case <-aw.finished:
		return ErrClosed
	}
}

// Close flushes remaining data and waits for the writeLoop to finish. Calling
// it again is harmless.
func (aw *Writer) Close() error {
	aw.closeOnce.Do(func() {
		aw.closed.Store(true)
		close(aw.quit)
	})
	<-aw.finished
	return aw.Err()
}

// writeLoop is a goroutine that continuously moves data from the channel to the writer.
func (aw *Writer) writeLoop() {
	defer close(aw.finished)
	ticker := time.NewTicker(aw.flushInterval) // Ticker to flush periodically
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)

		case done := <-aw.flushRequest:
			aw.flush()
			close(done)

		case <-aw.quit:
			aw.flush()
			return

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) write(data []byte) {
	if _, err := aw.writer.Write(data); err != nil {
		aw.setErr(err)
	}
}

func (aw *Writer) setErr(err error) {
	aw.errLock.Lock()
	defer aw.errLock.Unlock()
	if aw.err == nil {
		aw.err = err
	}
}

func (aw *Writer) flush() {
	// Empty the datachannel before calling the underlying writer's Flush()
	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)
		default:
			if err := aw.writer.Flush(); err != nil {
				aw.setErr(err)
			}
			return
		}
	}
}
