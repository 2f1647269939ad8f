package multiadc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/usnistgov/multiadc/converter"
	"github.com/usnistgov/multiadc/ringbuffer"
)

// State is the lifecycle state of an Engine.
type State int32

// Names for the possible values of State
const (
	Idle       State = iota // No configuration, hardware untouched
	Configured              // Groups validated and buffer allocated
	Running                 // Converters armed and triggered
	Stopping                // Waiting for the hardware to confirm it is disarmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Configured:
		return "Configured"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Notifier receives acquisition notifications. Its methods are called from the
// converter block's interrupt context and must neither block nor allocate.
type Notifier interface {
	OnHalfFull(r ringbuffer.Region)
	OnError(e AcquisitionError)
}

type nopNotifier struct{}

func (nopNotifier) OnHalfFull(ringbuffer.Region) {}
func (nopNotifier) OnError(AcquisitionError)     {}

// acquisition is everything the interrupt callbacks need, published as one
// pointer so they read it with a single atomic load.
type acquisition struct {
	buffer   *ringbuffer.RingBuffer
	notifier Notifier
	oneShot  bool
}

// Stats counts the transfer events and samples delivered since the engine was created.
type Stats struct {
	HalfEvents    uint64
	FullEvents    uint64
	HalfSamples   uint64 // samples delivered by half-transfer regions
	FullSamples   uint64 // samples delivered by full-transfer regions
	Faults        uint64
	IgnoredEvents uint64 // callbacks that arrived while not acquiring
}

// Default timing of Stop.
const (
	DefaultDisarmTimeout = 100 * time.Millisecond
	DefaultPollInterval  = time.Millisecond
)

// Engine drives a block of synchronized converters filling one circular
// sample buffer. Control operations (Configure, Start, Stop, Close) may be
// called from any goroutine and are serialized; the Engine also implements
// converter.Handler, whose methods only touch atomics.
type Engine struct {
	block         converter.Block
	log           zerolog.Logger
	disarmTimeout time.Duration
	pollInterval  time.Duration

	controlLock sync.Mutex // serializes control operations
	state       atomic.Int32
	groups      []ConversionGroupConfig
	capacity    int
	acq         atomic.Pointer[acquisition]

	halfEvents, fullEvents   atomic.Uint64
	halfSamples, fullSamples atomic.Uint64
	faults, ignored          atomic.Uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDisarmTimeout bounds how long Stop waits for the hardware to disarm.
func WithDisarmTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.disarmTimeout = d }
}

// WithPollInterval sets how often Stop polls the hardware while disarming.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.pollInterval = d }
}

// WithLogger sets the logger for state transitions.
func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an Idle engine driving the given converter block.
func NewEngine(block converter.Block, opts ...EngineOption) *Engine {
	e := &Engine{
		block:         block,
		log:           UpdateLogger.With().Str("component", "engine").Logger(),
		disarmTimeout: DefaultDisarmTimeout,
		pollInterval:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	engineStateGauge.Set(float64(Idle))
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	engineStateGauge.Set(float64(s))
	if old != s {
		e.log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("state change")
	}
}

// Configure validates groups, allocates a buffer of capacity samples and moves
// Idle→Configured. notifier may be nil.
func (e *Engine) Configure(groups []ConversionGroupConfig, capacity int, notifier Notifier) error {
	e.controlLock.Lock()
	defer e.controlLock.Unlock()

	if st := e.State(); st != Idle {
		return invalidState("Configure", st)
	}
	if err := Validate(groups, capacity); err != nil {
		return err
	}
	if n := e.block.Converters(); len(groups) != n {
		return configErrorf(ConverterCountMismatch, -1, "%d groups for a block of %d converters", len(groups), n)
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	layout := LayoutOf(groups)
	mode := groups[0].Mode
	buf, err := ringbuffer.NewRingBuffer(capacity, regionsFor(mode, capacity, layout))
	if err != nil {
		return maskAny(&ConfigError{Kind: CapacityError, Group: -1, Err: err})
	}
	e.groups = cloneGroups(groups)
	e.capacity = capacity
	e.acq.Store(&acquisition{buffer: buf, notifier: notifier, oneShot: mode == OneShot})
	e.setState(Configured)
	e.log.Info().
		Int("converters", layout.Converters).
		Int("stride", layout.Stride).
		Int("capacity", capacity).
		Str("mode", mode.String()).
		Msg("configured")
	return nil
}

// Start programs and arms the converters, slaves first and the master last,
// then triggers the master. On failure nothing is left armed and the engine
// stays Configured.
func (e *Engine) Start() error {
	e.controlLock.Lock()
	defer e.controlLock.Unlock()

	if st := e.State(); st != Configured {
		return invalidState("Start", st)
	}
	acq := e.acq.Load()
	n := len(e.groups)
	for i := 0; i < n; i++ {
		st, err := e.block.Status(i)
		if err != nil {
			return hardwareError(HardwareBusy, i, err)
		}
		if st.Busy || st.Armed || st.Fault {
			return hardwareError(HardwareBusy, i, fmt.Errorf("converter status %+v", st))
		}
	}

	for i, g := range e.groups {
		regs, err := converter.Encode(g.sequence(n))
		if err != nil {
			return hardwareError(ProgramFailure, i, err)
		}
		if err := e.block.Program(i, regs); err != nil {
			return hardwareError(ProgramFailure, i, err)
		}
	}
	if n > 1 {
		ccr, err := converter.CommonControl(n, !acq.oneShot)
		if err != nil {
			return hardwareError(ProgramFailure, -1, err)
		}
		if err := e.block.SetCommon(ccr); err != nil {
			return hardwareError(ProgramFailure, -1, err)
		}
	}
	if err := e.block.BindDMA(acq.buffer, e); err != nil {
		return hardwareError(ProgramFailure, -1, err)
	}

	order := append(lo.RangeFrom(1, n-1), 0)
	var armed []int
	for _, i := range order {
		if err := e.block.Arm(i); err != nil {
			e.rollback(armed)
			return hardwareError(ArmFailure, i, err)
		}
		armed = append(armed, i)
	}

	// Running before the trigger, so the first transfer is not ignored.
	e.setState(Running)
	if err := e.block.Trigger(); err != nil {
		e.setState(Configured)
		e.rollback(armed)
		return hardwareError(ArmFailure, 0, err)
	}
	e.log.Info().Ints("arm_order", order).Msg("started")
	return nil
}

// rollback disarms converters armed by a failed Start, master first.
func (e *Engine) rollback(armed []int) {
	for k := len(armed) - 1; k >= 0; k-- {
		i := armed[k]
		if err := e.block.Disarm(i); err != nil {
			e.log.Warn().Err(err).Int("converter", i).Msg("cannot disarm after failed start")
		}
	}
}

// Stop disarms the master, then the slaves, and waits for the hardware to
// confirm. If it does not within the disarm timeout the engine stays Stopping
// and Stop may be called again. Completed regions stay readable.
func (e *Engine) Stop() error {
	e.controlLock.Lock()
	defer e.controlLock.Unlock()

	switch st := e.State(); st {
	case Idle:
		return invalidState("Stop", st)
	case Configured:
		e.setState(Idle)
		return nil
	}
	e.setState(Stopping)

	n := len(e.groups)
	var failed []error
	for i := 0; i < n; i++ {
		if err := e.block.Disarm(i); err != nil {
			failed = append(failed, hardwareError(DisarmFailure, i, err))
		}
	}
	switch len(failed) {
	case 0:
	case 1:
		return failed[0]
	default:
		var ae aerr.AggregateError
		for _, err := range failed {
			ae.Add(err)
		}
		return ae.AsError()
	}

	deadline := time.Now().Add(e.disarmTimeout)
	for {
		pending := lo.Filter(lo.Range(n), func(i int, _ int) bool { return e.block.Armed(i) })
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			e.log.Warn().Ints("armed", pending).Dur("timeout", e.disarmTimeout).Msg("disarm timed out")
			return hardwareError(DisarmTimeout, pending[0],
				fmt.Errorf("converters %v still armed after %v", pending, e.disarmTimeout))
		}
		time.Sleep(e.pollInterval)
	}
	e.setState(Idle)
	e.log.Info().Uint64("generation", e.acq.Load().buffer.Generation()).Msg("stopped")
	return nil
}

// Close releases the converter block. The engine must be Idle.
func (e *Engine) Close() error {
	e.controlLock.Lock()
	defer e.controlLock.Unlock()
	if st := e.State(); st != Idle {
		return invalidState("Close", st)
	}
	return maskAny(e.block.Close())
}

// Groups returns a copy of the configured groups.
func (e *Engine) Groups() []ConversionGroupConfig {
	e.controlLock.Lock()
	defer e.controlLock.Unlock()
	return cloneGroups(e.groups)
}

// Layout returns the interleave layout of the configured groups.
func (e *Engine) Layout() Layout {
	e.controlLock.Lock()
	defer e.controlLock.Unlock()
	return LayoutOf(e.groups)
}

// Buffer returns the buffer of the latest Configure, or nil before the first.
func (e *Engine) Buffer() *ringbuffer.RingBuffer {
	if acq := e.acq.Load(); acq != nil {
		return acq.buffer
	}
	return nil
}

// Stats returns the event counters.
func (e *Engine) Stats() Stats {
	return Stats{
		HalfEvents:    e.halfEvents.Load(),
		FullEvents:    e.fullEvents.Load(),
		HalfSamples:   e.halfSamples.Load(),
		FullSamples:   e.fullSamples.Load(),
		Faults:        e.faults.Load(),
		IgnoredEvents: e.ignored.Load(),
	}
}

// acquiring returns the current acquisition if callbacks should be handled.
func (e *Engine) acquiring() *acquisition {
	st := State(e.state.Load())
	if st != Running && st != Stopping {
		e.ignored.Add(1)
		return nil
	}
	return e.acq.Load()
}

// HalfTransfer publishes the first region of the buffer.
func (e *Engine) HalfTransfer() {
	acq := e.acquiring()
	if acq == nil {
		return
	}
	r := acq.buffer.Commit()
	e.halfEvents.Add(1)
	e.halfSamples.Add(uint64(r.Len))
	halfEventsTotal.Inc()
	acq.notifier.OnHalfFull(r)
}

// FullTransfer publishes the last region of the buffer. A one-shot
// acquisition is complete after it.
func (e *Engine) FullTransfer() {
	acq := e.acquiring()
	if acq == nil {
		return
	}
	r := acq.buffer.Commit()
	e.fullEvents.Add(1)
	e.fullSamples.Add(uint64(r.Len))
	fullEventsTotal.Inc()
	if acq.oneShot && e.state.CompareAndSwap(int32(Running), int32(Idle)) {
		engineStateGauge.Set(float64(Idle))
	}
	acq.notifier.OnHalfFull(r)
}

// Fault forwards a hardware fault to the notifier. The engine keeps its state.
func (e *Engine) Fault(f converter.Fault) {
	acq := e.acquiring()
	if acq == nil {
		return
	}
	e.faults.Add(1)
	faultsTotal.Inc()
	acq.notifier.OnError(AcquisitionError{
		Kind:       SequencerFault,
		Generation: acq.buffer.Generation(),
		Fault:      f,
	})
}
