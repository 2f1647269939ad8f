package multiadc

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/usnistgov/multiadc/converter"
)

var (
	maskAny = errors.WithStack

	// ErrInvalidState matches every InvalidStateError with errors.Is.
	ErrInvalidState = errors.New("invalid engine state")
)

// ConfigErrorKind classifies rejected conversion group configurations.
type ConfigErrorKind int

// Configuration error kinds.
const (
	RoleError ConfigErrorKind = iota
	ChannelCountMismatch
	CapacityError
	ModeMismatch
	TriggerError
	ChannelError
	ConverterCountMismatch // groups do not match the converters of the block
)

var configErrorNames = map[ConfigErrorKind]string{
	RoleError:            "RoleError",
	ChannelCountMismatch: "ChannelCountMismatch",
	CapacityError:        "CapacityError",
	ModeMismatch:         "ModeMismatch",
	TriggerError:         "TriggerError",
	ChannelError:         "ChannelError",

	ConverterCountMismatch: "ConverterCountMismatch",
}

func (k ConfigErrorKind) String() string {
	if name, ok := configErrorNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ConfigErrorKind(%d)", int(k))
}

// ConfigError reports why a set of conversion groups cannot be acquired.
type ConfigError struct {
	Kind   ConfigErrorKind
	Group  int // index of the offending group, or -1
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Kind.String()
	if e.Group >= 0 {
		msg += fmt.Sprintf(" in group %d", e.Group)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(kind ConfigErrorKind, group int, format string, args ...any) error {
	return maskAny(&ConfigError{Kind: kind, Group: group, Detail: fmt.Sprintf(format, args...)})
}

// HardwareErrorKind classifies failures of the converter block.
type HardwareErrorKind int

// Hardware error kinds.
const (
	HardwareBusy HardwareErrorKind = iota
	DisarmTimeout
	ArmFailure
	ProgramFailure
	DisarmFailure
)

func (k HardwareErrorKind) String() string {
	switch k {
	case HardwareBusy:
		return "HardwareBusy"
	case DisarmTimeout:
		return "DisarmTimeout"
	case ArmFailure:
		return "ArmFailure"
	case ProgramFailure:
		return "ProgramFailure"
	case DisarmFailure:
		return "DisarmFailure"
	}
	return fmt.Sprintf("HardwareErrorKind(%d)", int(k))
}

// HardwareError reports a converter block that refused or failed an operation.
type HardwareError struct {
	Kind      HardwareErrorKind
	Converter int // physical converter index, or -1 for the whole block
	Err       error
}

func (e *HardwareError) Error() string {
	msg := e.Kind.String()
	if e.Converter >= 0 {
		msg += fmt.Sprintf(" on converter %d", e.Converter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HardwareError) Unwrap() error { return e.Err }

func hardwareError(kind HardwareErrorKind, conv int, err error) error {
	return maskAny(&HardwareError{Kind: kind, Converter: conv, Err: err})
}

// AcquisitionErrorKind classifies faults found while acquiring.
type AcquisitionErrorKind int

// Acquisition error kinds.
const (
	Overrun AcquisitionErrorKind = iota
	SequencerFault
)

func (k AcquisitionErrorKind) String() string {
	switch k {
	case Overrun:
		return "OverrunError"
	case SequencerFault:
		return "SequencerFault"
	}
	return fmt.Sprintf("AcquisitionErrorKind(%d)", int(k))
}

// AcquisitionError is raised from the acquisition path. It is a plain value so
// interrupt callbacks can raise it without allocating.
type AcquisitionError struct {
	Kind       AcquisitionErrorKind
	Generation uint64          // generation counter when the fault was seen
	Lost       uint64          // regions lost, for Overrun
	Fault      converter.Fault // hardware fault, for SequencerFault
}

func (e AcquisitionError) Error() string {
	switch e.Kind {
	case Overrun:
		return fmt.Sprintf("%v at generation %d: %d region(s) lost", e.Kind, e.Generation, e.Lost)
	case SequencerFault:
		return fmt.Sprintf("%v at generation %d: %v", e.Kind, e.Generation, e.Fault)
	}
	return e.Kind.String()
}

// InvalidStateError reports an engine operation attempted in the wrong state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s() an engine that's %v", e.Op, e.State)
}

// Is makes every InvalidStateError match ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

func invalidState(op string, st State) error {
	return maskAny(&InvalidStateError{Op: op, State: st})
}

// IsConfigError returns true if err is a ConfigError of the given kind.
func IsConfigError(err error, kind ConfigErrorKind) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsHardwareError returns true if err is a HardwareError of the given kind.
func IsHardwareError(err error, kind HardwareErrorKind) bool {
	var he *HardwareError
	return errors.As(err, &he) && he.Kind == kind
}

// IsInvalidState returns true if err is an InvalidStateError.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
