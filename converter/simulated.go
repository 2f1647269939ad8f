package converter

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/samber/lo"
	"github.com/usnistgov/multiadc/ringbuffer"
)

// Simulated is a drop in replacement for a hardware converter block (implements
// Block and PinConfigurer) that requires no hardware, for testing and for
// running the daemon on a host without converters. Conversions happen either
// when the caller invokes Step, or, with a cycle rate set, at that rate from a
// goroutine started by Trigger.
type Simulated struct {
	mu            sync.Mutex
	nconv         int
	regs          []Registers
	programmed    []bool
	ccr           uint32
	armed         []bool
	busy          []bool
	stuck         []bool
	armErr        []error
	disarmPolls   []int
	disarmLatency int
	target        DMATarget
	handler       Handler
	wave          Waveform
	plan          [][]uint8
	continuous    bool
	triggered     bool
	cycle         uint64
	ops           []string
	analog        map[uint8]bool
	closed        bool

	cycleRate float64 // conversion cycles per second when free-running
	stopRun   chan struct{}
	runDone   sync.WaitGroup
}

// SimulatedOption configures a Simulated block.
type SimulatedOption func(*Simulated)

// WithWaveform sets the signal the simulated converters read.
func WithWaveform(w Waveform) SimulatedOption {
	return func(s *Simulated) { s.wave = w }
}

// WithCycleRate makes the block convert on its own at hz cycles per second
// once triggered.
func WithCycleRate(hz float64) SimulatedOption {
	return func(s *Simulated) { s.cycleRate = hz }
}

// WithDisarmLatency sets how many Armed polls a converter stays armed after
// Disarm.
func WithDisarmLatency(polls int) SimulatedOption {
	return func(s *Simulated) { s.disarmLatency = polls }
}

// NewSimulated generates and returns a simulated block of the given number of
// converters.
func NewSimulated(converters int, opts ...SimulatedOption) (*Simulated, error) {
	if converters < 1 || converters > MaxConverters {
		return nil, fmt.Errorf("simulated block of %d converters not in [1, %d]", converters, MaxConverters)
	}
	s := &Simulated{
		nconv:       converters,
		regs:        make([]Registers, converters),
		programmed:  make([]bool, converters),
		armed:       make([]bool, converters),
		busy:        make([]bool, converters),
		stuck:       make([]bool, converters),
		armErr:      make([]error, converters),
		disarmPolls: make([]int, converters),
		analog:      make(map[uint8]bool),
		wave:        NewTriangle(0, 4095),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulated) checkIndex(i int) error {
	if s.closed {
		return fmt.Errorf("simulated block is closed")
	}
	if i < 0 || i >= s.nconv {
		return fmt.Errorf("converter %d not in [0, %d)", i, s.nconv)
	}
	return nil
}

func (s *Simulated) logOp(format string, args ...any) {
	s.ops = append(s.ops, fmt.Sprintf(format, args...))
}

// Converters returns the number of converters.
func (s *Simulated) Converters() int {
	return s.nconv
}

// Status reports converter i as busy while it is armed or marked busy.
func (s *Simulated) Status(i int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return Status{}, err
	}
	armed := s.armed[i] || s.stuck[i] || s.disarmPolls[i] > 0
	return Status{Busy: s.busy[i] || armed, Armed: armed}, nil
}

// Program errors if converter i is armed
func (s *Simulated) Program(i int, regs Registers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	if s.armed[i] {
		return fmt.Errorf("cannot program converter %d while armed", i)
	}
	s.regs[i] = regs
	s.programmed[i] = true
	s.logOp("program %d", i)
	return nil
}

// SetCommon errors if any converter is armed
func (s *Simulated) SetCommon(ccr uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("simulated block is closed")
	}
	if lo.Contains(s.armed, true) {
		return fmt.Errorf("cannot set common control while converters are armed")
	}
	s.ccr = ccr
	s.logOp("common 0x%04x", ccr)
	return nil
}

// BindDMA errors if the block is converting
func (s *Simulated) BindDMA(target DMATarget, h Handler) error {
	s.stopFreeRun()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("simulated block is closed")
	}
	if s.triggered {
		return fmt.Errorf("cannot bind DMA while converting")
	}
	s.target = target
	s.handler = h
	s.logOp("bind")
	return nil
}

// Arm errors if converter i is already armed or was never programmed
func (s *Simulated) Arm(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	if err := s.armErr[i]; err != nil {
		return err
	}
	if !s.programmed[i] {
		return fmt.Errorf("cannot arm converter %d before programming it", i)
	}
	if s.armed[i] {
		return fmt.Errorf("converter %d already armed", i)
	}
	s.armed[i] = true
	s.logOp("arm %d", i)
	return nil
}

// Trigger starts conversions. Every converter must be armed and programmed
// with sequences of equal length.
func (s *Simulated) Trigger() error {
	s.stopFreeRun()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("simulated block is closed")
	}
	if s.triggered {
		return fmt.Errorf("simulated block already triggered")
	}
	if s.target == nil || s.handler == nil {
		return fmt.Errorf("cannot trigger before binding DMA")
	}
	plan := make([][]uint8, s.nconv)
	for i := range plan {
		if !s.armed[i] {
			return fmt.Errorf("cannot trigger with converter %d disarmed", i)
		}
		seq := Decode(s.regs[i])
		plan[i] = lo.Map(seq.Ranks, func(r Rank, _ int) uint8 { return r.Input })
		if len(plan[i]) != len(plan[0]) {
			return fmt.Errorf("converter %d sequence length %d differs from master's %d",
				i, len(plan[i]), len(plan[0]))
		}
	}
	if s.nconv == 1 {
		s.continuous = Decode(s.regs[0]).DDS
	} else {
		nconv, cont := DecodeCommon(s.ccr)
		if nconv != s.nconv {
			return fmt.Errorf("common control selects %d converters, block has %d", nconv, s.nconv)
		}
		s.continuous = cont
	}
	s.plan = plan
	s.regs[0].CR2 |= cr2SWSTART
	s.triggered = true
	s.logOp("trigger")

	if s.cycleRate > 0 {
		s.stopRun = make(chan struct{})
		s.runDone.Add(1)
		go s.freeRun(s.stopRun)
	}
	return nil
}

// Disarm clears converter i's armed flag. It keeps reporting armed for the
// configured number of polls. Disarming the master stops conversions.
func (s *Simulated) Disarm(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.logOp("disarm %d", i)
	if !s.armed[i] {
		return nil
	}
	s.armed[i] = false
	s.disarmPolls[i] = s.disarmLatency
	if i == 0 {
		s.triggered = false
		s.regs[0].CR2 &^= cr2SWSTART
	}
	return nil
}

// Armed reports whether converter i is still converting.
func (s *Simulated) Armed(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.nconv {
		return false
	}
	if s.stuck[i] {
		return true
	}
	if s.disarmPolls[i] > 0 {
		s.disarmPolls[i]--
		return true
	}
	return s.armed[i]
}

// Close errors if already closed
func (s *Simulated) Close() error {
	s.stopFreeRun()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("simulated block already closed")
	}
	s.closed = true
	s.triggered = false
	return nil
}

// Step runs up to cycles conversion cycles and returns how many ran. It stops
// early when the block is not (or no longer) triggered.
func (s *Simulated) Step(cycles int) int {
	done := 0
	for done < cycles {
		s.mu.Lock()
		if !s.triggered || s.closed {
			s.mu.Unlock()
			break
		}
		cycle := s.cycle
		s.cycle++
		plan, target, handler, wave, continuous := s.plan, s.target, s.handler, s.wave, s.continuous
		s.mu.Unlock()

		done++
		for rank := range plan[0] {
			for c := range plan {
				v := wave.Sample(c, plan[c][rank], cycle) & 0xfff
				switch target.Put(v) {
				case ringbuffer.EventHalf:
					handler.HalfTransfer()
				case ringbuffer.EventFull:
					if !continuous {
						s.complete()
						handler.FullTransfer()
						return done
					}
					handler.FullTransfer()
				}
			}
		}
	}
	return done
}

// complete ends a one-shot acquisition after its last transfer.
func (s *Simulated) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = false
	s.regs[0].CR2 &^= cr2SWSTART
	for i := range s.armed {
		s.armed[i] = false
	}
	s.logOp("complete")
}

func (s *Simulated) freeRun(stop <-chan struct{}) {
	defer s.runDone.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	last := time.Now()
	var owed float64
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			owed += now.Sub(last).Seconds() * s.cycleRate
			last = now
			n := int(owed)
			owed -= float64(n)
			if n > 0 && s.Step(n) < n {
				return
			}
		}
	}
}

func (s *Simulated) stopFreeRun() {
	s.mu.Lock()
	stop := s.stopRun
	s.stopRun = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	s.runDone.Wait()
}

// InjectFault raises f through the bound handler, as the hardware interrupt would.
func (s *Simulated) InjectFault(f Fault) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.Fault(f)
	}
}

// SetBusy marks converter i as claimed by something else.
func (s *Simulated) SetBusy(i int, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[i] = busy
}

// SetStuck makes converter i ignore Disarm.
func (s *Simulated) SetStuck(i int, stuck bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck[i] = stuck
}

// FailArm makes every Arm of converter i return err (nil clears it).
func (s *Simulated) FailArm(i int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armErr[i] = err
}

// Ops returns the log of control operations issued to the block.
func (s *Simulated) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

// ResetOps clears the operation log.
func (s *Simulated) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// Registers returns the register image last programmed into converter i.
func (s *Simulated) Registers(i int) Registers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[i]
}

// Common returns the common control word.
func (s *Simulated) Common() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ccr
}

// Cycles returns the number of conversion cycles run so far.
func (s *Simulated) Cycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// SetAnalog records input as switched to analog mode.
func (s *Simulated) SetAnalog(input uint8) error {
	if input > MaxInput {
		return fmt.Errorf("input %d exceeds %d", input, MaxInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analog[input] = true
	return nil
}

// AnalogInputs returns the inputs switched to analog mode, in order.
func (s *Simulated) AnalogInputs() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	inputs := lo.Keys(s.analog)
	slices.Sort(inputs)
	return inputs
}

// Inspect returns a dump of the block's state.
func (s *Simulated) Inspect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return spew.Sdump(struct {
		Converters int
		Registers  []Registers
		Common     uint32
		Armed      []bool
		Triggered  bool
		Continuous bool
		Cycle      uint64
	}{s.nconv, s.regs, s.ccr, s.armed, s.triggered, s.continuous, s.cycle})
}
