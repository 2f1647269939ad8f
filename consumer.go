package multiadc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/usnistgov/multiadc/report"
	"github.com/usnistgov/multiadc/ringbuffer"
)

// BufferSource is where a SampleConsumer finds the buffer to drain and how
// its samples interleave. Engine implements it.
type BufferSource interface {
	Buffer() *ringbuffer.RingBuffer
	Layout() Layout
}

// Default SampleConsumer settings.
const (
	DefaultPollPeriod = time.Millisecond
	DefaultFaultQueue = 16
)

// SampleConsumer drains completed buffer regions and forwards them to a
// Reporter. It implements Notifier: notifications only wake it up, so the
// interrupt path never waits on the consumer.
type SampleConsumer struct {
	source      BufferSource
	reporter    report.Reporter
	log         zerolog.Logger
	pollPeriod  time.Duration
	onFault     func(AcquisitionError)
	stopOnFault bool
	stopErr     error // first fault, once stopOnFault is set

	wake          chan struct{}
	faults        chan AcquisitionError
	droppedFaults atomic.Uint64

	scratch      []ringbuffer.RawType
	delivered    uint64 // samples reported so far
	reported     atomic.Uint64
	lost         atomic.Uint64
	reportErrors atomic.Uint64
}

// ConsumerOption configures a SampleConsumer.
type ConsumerOption func(*SampleConsumer)

// WithPollPeriod sets how long the consumer sleeps between buffer checks when
// no notification arrives.
func WithPollPeriod(d time.Duration) ConsumerOption {
	return func(c *SampleConsumer) { c.pollPeriod = d }
}

// WithFaultHandler sets the owner hook called, from the consumer goroutine,
// for every overrun and hardware fault.
func WithFaultHandler(fn func(AcquisitionError)) ConsumerOption {
	return func(c *SampleConsumer) { c.onFault = fn }
}

// WithStopOnFault makes Run return the first overrun or hardware fault, so
// the owner can stop the engine.
func WithStopOnFault(stop bool) ConsumerOption {
	return func(c *SampleConsumer) { c.stopOnFault = stop }
}

// WithFaultQueue sets how many fault notifications may wait for the consumer.
func WithFaultQueue(n int) ConsumerOption {
	return func(c *SampleConsumer) { c.faults = make(chan AcquisitionError, n) }
}

// WithConsumerLogger sets the consumer's logger.
func WithConsumerLogger(log zerolog.Logger) ConsumerOption {
	return func(c *SampleConsumer) { c.log = log }
}

// NewSampleConsumer creates a consumer of source's buffer reporting to reporter.
func NewSampleConsumer(source BufferSource, reporter report.Reporter, opts ...ConsumerOption) *SampleConsumer {
	c := &SampleConsumer{
		source:     source,
		reporter:   reporter,
		log:        UpdateLogger.With().Str("component", "consumer").Logger(),
		pollPeriod: DefaultPollPeriod,
		wake:       make(chan struct{}, 1),
		faults:     make(chan AcquisitionError, DefaultFaultQueue),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollPeriod <= 0 {
		c.pollPeriod = DefaultPollPeriod
	}
	return c
}

// OnHalfFull wakes the consumer without waiting.
func (c *SampleConsumer) OnHalfFull(ringbuffer.Region) {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// OnError queues a fault for the consumer goroutine, dropping it when the
// queue is full.
func (c *SampleConsumer) OnError(e AcquisitionError) {
	select {
	case c.faults <- e:
	default:
		c.droppedFaults.Add(1)
		droppedFaultsTotal.Inc()
	}
}

// Run drains the buffer after every notification and at least once per poll
// period, until ctx is canceled. Remaining regions are drained before it
// returns. With WithStopOnFault it also returns, with the fault as error,
// after the first fault.
func (c *SampleConsumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.handleFaults()
			c.Drain(context.Background())
			return c.stopErr
		case e := <-c.faults:
			c.fault(e)
		case <-c.wake:
		case <-ticker.C:
		}
		c.handleFaults()
		c.Drain(ctx)
		if c.stopErr != nil {
			return c.stopErr
		}
	}
}

func (c *SampleConsumer) handleFaults() {
	for {
		select {
		case e := <-c.faults:
			c.fault(e)
		default:
			return
		}
	}
}

// Drain reports every region ready now and returns how many were reported.
// Overruns are raised through the fault handler and never reported as data.
func (c *SampleConsumer) Drain(ctx context.Context) int {
	buf := c.source.Buffer()
	if buf == nil {
		return 0
	}
	layout := c.source.Layout()
	n := 0
	for ctx.Err() == nil {
		r, ok, err := buf.ReadyRegion()
		if err != nil {
			c.overrun(err)
			continue
		}
		if !ok {
			break
		}
		if cap(c.scratch) < r.Len {
			c.scratch = make([]ringbuffer.RawType, r.Len)
		}
		samples := c.scratch[:buf.CopyRegion(c.scratch[:r.Len], r)]
		if err := buf.Release(r); err != nil {
			c.overrun(err)
			continue
		}
		frame := report.Frame{
			Generation: r.Generation,
			Seq:        r.Seq,
			Offset:     r.Offset,
			Full:       r.Kind == ringbuffer.EventFull,
			Index:      c.delivered,
			Converters: layout.Converters,
			Stride:     layout.Stride,
			Samples:    samples,
		}
		c.delivered += uint64(len(samples))
		if err := c.reporter.Report(ctx, frame); err != nil {
			c.reportErrors.Add(1)
			reportErrorsTotal.Inc()
			c.log.Warn().Err(err).Uint64("generation", r.Generation).Msg("report failed")
			continue
		}
		c.reported.Add(1)
		regionsReportedTotal.Inc()
		n++
	}
	return n
}

func (c *SampleConsumer) overrun(err error) {
	var over ringbuffer.OverrunError
	if !errors.As(err, &over) {
		c.log.Error().Err(err).Msg("unexpected buffer error")
		return
	}
	c.fault(AcquisitionError{Kind: Overrun, Generation: over.Generation, Lost: over.Lost})
}

func (c *SampleConsumer) fault(e AcquisitionError) {
	if e.Kind == Overrun {
		c.lost.Add(e.Lost)
		regionsLostTotal.Add(float64(e.Lost))
	}
	ProblemLogger.Warn().Str("component", "consumer").Msg(e.Error())
	if c.onFault != nil {
		c.onFault(e)
	}
	if c.stopOnFault && c.stopErr == nil {
		c.stopErr = maskAny(e)
	}
}

// Reported returns the number of regions reported.
func (c *SampleConsumer) Reported() uint64 { return c.reported.Load() }

// Lost returns the number of regions lost to overruns.
func (c *SampleConsumer) Lost() uint64 { return c.lost.Load() }

// ReportErrors returns the number of failed reports.
func (c *SampleConsumer) ReportErrors() uint64 { return c.reportErrors.Load() }

// DroppedFaults returns the number of fault notifications dropped.
func (c *SampleConsumer) DroppedFaults() uint64 { return c.droppedFaults.Load() }
