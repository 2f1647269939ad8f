package multiadc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/multiadc/converter"
)

func channels(inputs ...uint8) []ChannelSpec {
	specs := make([]ChannelSpec, len(inputs))
	for i, in := range inputs {
		specs[i] = ChannelSpec{Input: in, SampleTime: converter.Cycles480}
	}
	return specs
}

func TestValidateDefaultGroups(t *testing.T) {
	assert.NoError(t, Validate(DefaultGroups(), 24))
	assert.NoError(t, Validate(DefaultGroups(), 12))
	assert.NoError(t, Validate(DefaultGroups(), 48))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name     string
		edit     func([]ConversionGroupConfig) []ConversionGroupConfig
		capacity int
		kind     ConfigErrorKind
		group    int
	}{
		{"odd circular capacity", nil, 25, CapacityError, -1},
		{"zero circular capacity", nil, 0, CapacityError, -1},
		{"role error before odd capacity", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[0].Role = Slave
			return g
		}, 23, RoleError, -1},
		{"channel count error before odd capacity", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[2].ChannelCount = 1
			g[2].Channels = g[2].Channels[:1]
			return g
		}, 23, ChannelCountMismatch, 2},
		{"no groups", func([]ConversionGroupConfig) []ConversionGroupConfig { return nil }, 24, RoleError, -1},
		{"no master", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[0].Role = Slave
			return g
		}, 24, RoleError, -1},
		{"two masters", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[2].Role = Master
			return g
		}, 24, RoleError, -1},
		{"master not first", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[0], g[1] = g[1], g[0]
			return g
		}, 24, RoleError, 0},
		{"channel counts differ", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[1].ChannelCount = 3
			g[1].Channels = channels(1, 10, 12)
			return g
		}, 24, ChannelCountMismatch, 1},
		{"channel list too short", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[2].Channels = g[2].Channels[:1]
			return g
		}, 24, ChannelCountMismatch, 2},
		{"zero channels", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			for i := range g {
				g[i].ChannelCount = 0
				g[i].Channels = nil
			}
			return g
		}, 24, ChannelCountMismatch, 0},
		{"modes differ", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[2].Mode = OneShot
			return g
		}, 24, ModeMismatch, 2},
		{"slave trigger", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[1].Trigger = &TriggerConfig{Source: ExternalEvent}
			return g
		}, 24, TriggerError, 1},
		{"external source on software trigger", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[0].Trigger = &TriggerConfig{Source: SoftwareImmediate, ExternalSource: 3}
			return g
		}, 24, TriggerError, 0},
		{"invalid trigger source", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[0].Trigger = &TriggerConfig{Source: TriggerSource(9)}
			return g
		}, 24, TriggerError, 0},
		{"capacity not whole frames", nil, 18, CapacityError, -1},
		{"one-shot negative capacity", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			for i := range g {
				g[i].Mode = OneShot
			}
			return g
		}, -6, CapacityError, -1},
		{"input out of range", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[1].Channels[1].Input = 19
			return g
		}, 24, ChannelError, 1},
		{"conflicting sample times", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			g[0].Channels = []ChannelSpec{{0, converter.Cycles480}, {0, converter.Cycles3}}
			return g
		}, 24, ChannelError, 0},
		{"too many ranks", func(g []ConversionGroupConfig) []ConversionGroupConfig {
			inputs := make([]uint8, converter.MaxRanks+1)
			g = g[:1]
			g[0].ChannelCount = len(inputs)
			g[0].Channels = channels(inputs...)
			return g
		}, 2 * (converter.MaxRanks + 1), ChannelError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := DefaultGroups()
			if tt.edit != nil {
				groups = tt.edit(groups)
			}
			err := Validate(groups, tt.capacity)
			require.Error(t, err)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.kind, ce.Kind, err.Error())
			assert.Equal(t, tt.group, ce.Group, err.Error())
		})
	}
}

func TestValidateOneShotCapacity(t *testing.T) {
	groups := DefaultGroups()
	for i := range groups {
		groups[i].Mode = OneShot
	}
	assert.NoError(t, Validate(groups, 6), "single frame")
	assert.NoError(t, Validate(groups, 12))
	assert.True(t, IsConfigError(Validate(groups, 9), CapacityError))
	assert.True(t, IsConfigError(Validate(groups, 3), CapacityError))
	// Odd capacities are only rejected up front for circular buffers.
	single := []ConversionGroupConfig{{Role: Master, ChannelCount: 1, Channels: channels(4), Mode: OneShot}}
	assert.NoError(t, Validate(single, 1))
}

func TestValidateHasNoSideEffects(t *testing.T) {
	groups := DefaultGroups()
	before := cloneGroups(groups)
	require.NoError(t, Validate(groups, 24))
	assert.Equal(t, before, groups)
}

func TestLayoutSlots(t *testing.T) {
	l := LayoutOf(DefaultGroups())
	assert.Equal(t, 6, l.FrameSize())
	want := [][2]int{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}, {0, 0}}
	for i, w := range want {
		conv, rank := l.Slot(i)
		assert.Equal(t, w, [2]int{conv, rank}, "slot %d", i)
	}
	assert.Equal(t, Layout{}, LayoutOf(nil))
}

func TestSequenceFlags(t *testing.T) {
	groups := DefaultGroups()
	seq := groups[0].sequence(3)
	assert.False(t, seq.DMA)
	assert.True(t, seq.Continuous)
	assert.Equal(t, converter.TriggerSoftware, seq.Trigger)
	assert.Equal(t, []converter.Rank{{0, converter.Cycles480}, {3, converter.Cycles480}}, seq.Ranks)

	single := ConversionGroupConfig{Role: Master, ChannelCount: 1, Channels: channels(4), Mode: Circular,
		Trigger: &TriggerConfig{Source: ExternalEvent, ExternalSource: 11}}
	seq = single.sequence(1)
	assert.True(t, seq.DMA)
	assert.True(t, seq.DDS)
	assert.Equal(t, converter.TriggerExternal, seq.Trigger)
	assert.Equal(t, uint8(11), seq.ExtSel)

	single.Mode = OneShot
	assert.False(t, single.sequence(1).DDS)
}

func TestEnumText(t *testing.T) {
	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("One-Shot")))
	assert.Equal(t, OneShot, m)
	require.NoError(t, m.UnmarshalText([]byte("circular")))
	assert.Equal(t, Circular, m)
	assert.Error(t, m.UnmarshalText([]byte("sometimes")))

	var r Role
	require.NoError(t, r.UnmarshalText([]byte("SLAVE")))
	assert.Equal(t, Slave, r)
	_, err := Role(7).MarshalText()
	assert.Error(t, err)

	var ts TriggerSource
	require.NoError(t, ts.UnmarshalText([]byte("external")))
	assert.Equal(t, ExternalEvent, ts)
	b, err := SoftwareImmediate.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "software", string(b))
}

type pinRecorder struct {
	pins []uint8
	fail uint8
}

func (p *pinRecorder) SetAnalog(in uint8) error {
	if in == p.fail {
		return errors.New("pin locked")
	}
	p.pins = append(p.pins, in)
	return nil
}

func TestConfigureAnalogInputs(t *testing.T) {
	groups := DefaultGroups()
	groups[2].Channels[1].Input = 3 // shared with the master
	p := &pinRecorder{fail: 255}
	require.NoError(t, ConfigureAnalogInputs(p, groups))
	assert.Equal(t, []uint8{0, 3, 1, 10, 2}, p.pins)

	p = &pinRecorder{fail: 10}
	assert.Error(t, ConfigureAnalogInputs(p, DefaultGroups()))
}

func TestCloneIsDeep(t *testing.T) {
	g := DefaultGroups()[0]
	c := g.Clone()
	c.Channels[0].Input = 9
	c.Trigger.Source = ExternalEvent
	assert.Equal(t, uint8(0), g.Channels[0].Input)
	assert.Equal(t, SoftwareImmediate, g.Trigger.Source)
}
