package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMasterSequence(t *testing.T) {
	regs, err := Encode(Sequence{
		Ranks:      []Rank{{0, Cycles480}, {3, Cycles480}},
		Continuous: true,
	})
	require.NoError(t, err)
	expect := Registers{
		CR1:   cr1OVRIE | cr1SCAN,
		CR2:   cr2ADON | cr2CONT,
		SMPR2: 0xe07,
		SQR1:  1 << 20,
		SQR3:  0x60,
	}
	assert.Equal(t, expect, regs)

	regs, err = Encode(Sequence{Ranks: []Rank{{1, Cycles480}, {10, Cycles480}}, Continuous: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x38), regs.SMPR2)
	assert.Equal(t, uint32(0x7), regs.SMPR1)
	assert.Equal(t, uint32(0x141), regs.SQR3)
}

func TestEncodeSingleRank(t *testing.T) {
	regs, err := Encode(Sequence{Ranks: []Rank{{5, Cycles3}}, DMA: true, DDS: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(cr1OVRIE), regs.CR1, "one rank needs no scan mode")
	assert.Equal(t, uint32(cr2ADON|cr2DMA|cr2DDS), regs.CR2)
	assert.Equal(t, uint32(0), regs.SQR1)
	assert.Equal(t, uint32(5), regs.SQR3)
}

func TestEncodeExternalTrigger(t *testing.T) {
	regs, err := Encode(Sequence{Ranks: []Rank{{0, Cycles15}}, Trigger: TriggerExternal, ExtSel: 11})
	require.NoError(t, err)
	assert.Equal(t, uint32(cr2ADON|11<<24|1<<28), regs.CR2)
	seq := Decode(regs)
	assert.Equal(t, TriggerExternal, seq.Trigger)
	assert.Equal(t, uint8(11), seq.ExtSel)

	_, err = Encode(Sequence{Ranks: []Rank{{0, Cycles15}}, Trigger: TriggerExternal, ExtSel: 16})
	assert.Error(t, err)
}

func TestEncodeDecodeAllRanks(t *testing.T) {
	seq := Sequence{Continuous: true}
	for i := 0; i < MaxRanks; i++ {
		in := uint8((i * 7) % (MaxInput + 1))
		seq.Ranks = append(seq.Ranks, Rank{Input: in, SampleTime: SampleTime(in % 8)})
	}
	regs, err := Encode(seq)
	require.NoError(t, err)
	assert.Equal(t, uint32(15), (regs.SQR1>>20)&0xf)
	assert.Equal(t, seq, Decode(regs))
}

func TestEncodeErrors(t *testing.T) {
	tooMany := Sequence{}
	for i := 0; i <= MaxRanks; i++ {
		tooMany.Ranks = append(tooMany.Ranks, Rank{Input: 0})
	}
	bad := map[string]Sequence{
		"empty":          {},
		"too many ranks": tooMany,
		"input 19":       {Ranks: []Rank{{19, Cycles3}}},
		"sample time 8":  {Ranks: []Rank{{1, SampleTime(8)}}},
		"conflicting":    {Ranks: []Rank{{4, Cycles3}, {4, Cycles15}}},
	}
	for name, seq := range bad {
		if _, err := Encode(seq); err == nil {
			t.Errorf("Encode(%s) succeeded, want error", name)
		}
	}
	// The same input may repeat with the same sample time.
	_, err := Encode(Sequence{Ranks: []Rank{{4, Cycles56}, {4, Cycles56}}})
	assert.NoError(t, err)
}

func TestCommonControl(t *testing.T) {
	tests := []struct {
		n        int
		circular bool
		want     uint32
	}{
		{1, true, 0x0000},
		{2, false, 0x4006},
		{2, true, 0x6006},
		{3, false, 0x4016},
		{3, true, 0x6016},
	}
	for _, tt := range tests {
		ccr, err := CommonControl(tt.n, tt.circular)
		if err != nil {
			t.Errorf("CommonControl(%d, %v) error %v", tt.n, tt.circular, err)
			continue
		}
		if ccr != tt.want {
			t.Errorf("CommonControl(%d, %v) = 0x%04x, want 0x%04x", tt.n, tt.circular, ccr, tt.want)
		}
		n, cont := DecodeCommon(ccr)
		assert.Equal(t, tt.n, n)
		assert.Equal(t, tt.circular && tt.n > 1, cont)
	}
	for _, n := range []int{0, 4} {
		_, err := CommonControl(n, true)
		assert.Error(t, err)
	}
}

func TestSampleTimeText(t *testing.T) {
	for code := Cycles3; code <= Cycles480; code++ {
		text, err := code.MarshalText()
		require.NoError(t, err)
		var back SampleTime
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, code, back)
	}
	var st SampleTime
	require.NoError(t, st.UnmarshalText([]byte("144")))
	assert.Equal(t, Cycles144, st)
	require.NoError(t, st.UnmarshalText([]byte("Cycles28")))
	assert.Equal(t, Cycles28, st)
	assert.Error(t, st.UnmarshalText([]byte("100")))
	_, err := SampleTime(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, 480, Cycles480.Cycles())
}
