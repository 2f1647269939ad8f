package multiadc

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/usnistgov/multiadc/converter"
)

// Role says whether a converter drives acquisition timing or follows it.
type Role int

// Converter roles. Exactly one Master per engine.
const (
	Master Role = iota
	Slave
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Slave:
		return "slave"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// MarshalText writes the role name.
func (r Role) MarshalText() ([]byte, error) {
	if r != Master && r != Slave {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText parses "master" or "slave".
func (r *Role) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "master":
		*r = Master
	case "slave":
		*r = Slave
	default:
		return fmt.Errorf("unknown role %q", string(text))
	}
	return nil
}

// TriggerSource says what starts the master's conversion sequence.
type TriggerSource int

// Trigger sources.
const (
	SoftwareImmediate TriggerSource = iota
	ExternalEvent
)

func (ts TriggerSource) String() string {
	switch ts {
	case SoftwareImmediate:
		return "software"
	case ExternalEvent:
		return "external"
	}
	return fmt.Sprintf("TriggerSource(%d)", int(ts))
}

// MarshalText writes the trigger source name.
func (ts TriggerSource) MarshalText() ([]byte, error) {
	if ts != SoftwareImmediate && ts != ExternalEvent {
		return nil, fmt.Errorf("invalid trigger source %d", int(ts))
	}
	return []byte(ts.String()), nil
}

// UnmarshalText parses "software" or "external".
func (ts *TriggerSource) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "software", "softwareimmediate":
		*ts = SoftwareImmediate
	case "external", "externalevent":
		*ts = ExternalEvent
	default:
		return fmt.Errorf("unknown trigger source %q", string(text))
	}
	return nil
}

// Mode selects a single buffer fill or endless wrap-around acquisition.
type Mode int

// Acquisition modes.
const (
	OneShot Mode = iota
	Circular
)

func (m Mode) String() string {
	switch m {
	case OneShot:
		return "oneshot"
	case Circular:
		return "circular"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText writes the mode name.
func (m Mode) MarshalText() ([]byte, error) {
	if m != OneShot && m != Circular {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText parses "oneshot" or "circular".
func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "oneshot", "one-shot", "linear":
		*m = OneShot
	case "circular":
		*m = Circular
	default:
		return fmt.Errorf("unknown mode %q", string(text))
	}
	return nil
}

// ChannelSpec is one entry in a converter's conversion sequence.
type ChannelSpec struct {
	Input      uint8                `mapstructure:"input" yaml:"input"`
	SampleTime converter.SampleTime `mapstructure:"sample_time" yaml:"sample_time"`
}

// TriggerConfig is the master's start-of-conversion configuration.
type TriggerConfig struct {
	Source         TriggerSource `mapstructure:"source" yaml:"source"`
	ExternalSource uint8         `mapstructure:"external_source" yaml:"external_source,omitempty"`
}

// ConversionGroupConfig is the sampling setup of one physical converter.
// Groups are indexed by converter number; group 0 is the master.
type ConversionGroupConfig struct {
	Role         Role           `mapstructure:"role" yaml:"role"`
	ChannelCount int            `mapstructure:"channel_count" yaml:"channel_count"`
	Channels     []ChannelSpec  `mapstructure:"channels" yaml:"channels"`
	Trigger      *TriggerConfig `mapstructure:"trigger" yaml:"trigger,omitempty"` // master only; nil means SoftwareImmediate
	Mode         Mode           `mapstructure:"mode" yaml:"mode"`
}

// Clone returns a deep copy of g.
func (g ConversionGroupConfig) Clone() ConversionGroupConfig {
	c := g
	c.Channels = append([]ChannelSpec(nil), g.Channels...)
	if g.Trigger != nil {
		t := *g.Trigger
		c.Trigger = &t
	}
	return c
}

func cloneGroups(groups []ConversionGroupConfig) []ConversionGroupConfig {
	return lo.Map(groups, func(g ConversionGroupConfig, _ int) ConversionGroupConfig { return g.Clone() })
}

// Layout describes how converters and channels interleave in the buffer: for
// each rank, one slot per converter in converter order.
type Layout struct {
	Converters int
	Stride     int // channels per converter
}

// FrameSize returns the number of slots one conversion cycle fills.
func (l Layout) FrameSize() int {
	return l.Converters * l.Stride
}

// Slot returns the converter and rank that fill buffer slot i.
func (l Layout) Slot(i int) (conv, rank int) {
	frame := l.FrameSize()
	if frame == 0 {
		return 0, 0
	}
	within := i % frame
	return within % l.Converters, within / l.Converters
}

// LayoutOf returns the interleave layout of a valid set of groups.
func LayoutOf(groups []ConversionGroupConfig) Layout {
	if len(groups) == 0 {
		return Layout{}
	}
	return Layout{Converters: len(groups), Stride: groups[0].ChannelCount}
}

// regionsFor returns how many regions a buffer of the given capacity is split
// into: one when a one-shot acquisition holds a single frame, two otherwise.
func regionsFor(mode Mode, capacity int, layout Layout) int {
	if mode == OneShot && capacity == layout.FrameSize() {
		return 1
	}
	return 2
}

// Validate checks a set of conversion groups and the buffer capacity meant to
// hold their samples. It has no side effects.
func Validate(groups []ConversionGroupConfig, capacity int) error {
	if len(groups) == 0 {
		return configErrorf(RoleError, -1, "no conversion groups")
	}
	masters := lo.CountBy(groups, func(g ConversionGroupConfig) bool { return g.Role == Master })
	if masters != 1 {
		return configErrorf(RoleError, -1, "%d master groups, want exactly 1", masters)
	}
	if groups[0].Role != Master {
		return configErrorf(RoleError, 0, "group 0 must be the master")
	}
	for i, g := range groups {
		if g.Role != Master && g.Role != Slave {
			return configErrorf(RoleError, i, "invalid role %d", int(g.Role))
		}
	}

	stride := groups[0].ChannelCount
	if stride < 1 {
		return configErrorf(ChannelCountMismatch, 0, "master channel count %d must be at least 1", stride)
	}
	for i, g := range groups {
		if g.ChannelCount != stride {
			return configErrorf(ChannelCountMismatch, i, "channel count %d differs from master's %d", g.ChannelCount, stride)
		}
		if len(g.Channels) != g.ChannelCount {
			return configErrorf(ChannelCountMismatch, i, "%d channels listed for channel count %d", len(g.Channels), g.ChannelCount)
		}
	}
	if groups[0].Mode == Circular && (capacity == 0 || capacity%2 != 0) {
		return configErrorf(CapacityError, -1, "circular buffer capacity %d must be even and nonzero", capacity)
	}

	mode := groups[0].Mode
	for i, g := range groups {
		if g.Mode != OneShot && g.Mode != Circular {
			return configErrorf(ModeMismatch, i, "invalid mode %d", int(g.Mode))
		}
		if g.Mode != mode {
			return configErrorf(ModeMismatch, i, "mode %v differs from master's %v", g.Mode, mode)
		}
	}

	for i, g := range groups[1:] {
		if g.Trigger != nil {
			return configErrorf(TriggerError, i+1, "slaves are started by the master and take no trigger")
		}
	}
	if trig := groups[0].Trigger; trig != nil {
		if trig.Source != SoftwareImmediate && trig.Source != ExternalEvent {
			return configErrorf(TriggerError, 0, "invalid trigger source %d", int(trig.Source))
		}
		if trig.Source == SoftwareImmediate && trig.ExternalSource != 0 {
			return configErrorf(TriggerError, 0, "external source %d set on a software trigger", trig.ExternalSource)
		}
	}

	layout := LayoutOf(groups)
	frame := layout.FrameSize()
	switch {
	case capacity <= 0:
		return configErrorf(CapacityError, -1, "capacity %d must be positive", capacity)
	case mode == OneShot && capacity == frame:
	case capacity%(2*frame) != 0:
		return configErrorf(CapacityError, -1, "capacity %d does not split into two regions of whole %d-sample frames", capacity, frame)
	}

	for i, g := range groups {
		if _, err := converter.Encode(g.sequence(len(groups))); err != nil {
			return maskAny(&ConfigError{Kind: ChannelError, Group: i, Err: err})
		}
	}
	return nil
}

// sequence returns the converter sequence that acquires the group as part of a
// block of the given number of converters.
func (g ConversionGroupConfig) sequence(converters int) converter.Sequence {
	seq := converter.Sequence{
		Ranks: lo.Map(g.Channels, func(c ChannelSpec, _ int) converter.Rank {
			return converter.Rank{Input: c.Input, SampleTime: c.SampleTime}
		}),
		Continuous: true,
	}
	if converters == 1 {
		seq.DMA = true
		seq.DDS = g.Mode == Circular
	}
	if g.Role == Master && g.Trigger != nil && g.Trigger.Source == ExternalEvent {
		seq.Trigger = converter.TriggerExternal
		seq.ExtSel = g.Trigger.ExternalSource
	}
	return seq
}

// Inputs returns every distinct input used by the groups, in first-use order.
func Inputs(groups []ConversionGroupConfig) []uint8 {
	all := lo.FlatMap(groups, func(g ConversionGroupConfig, _ int) []uint8 {
		return lo.Map(g.Channels, func(c ChannelSpec, _ int) uint8 { return c.Input })
	})
	return lo.Uniq(all)
}

// ConfigureAnalogInputs switches every input used by the groups to analog mode.
func ConfigureAnalogInputs(pins converter.PinConfigurer, groups []ConversionGroupConfig) error {
	for _, in := range Inputs(groups) {
		if err := pins.SetAnalog(in); err != nil {
			return maskAny(err)
		}
	}
	return nil
}
