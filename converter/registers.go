package converter

import (
	"fmt"
	"strings"
)

// SampleTime is the per-input sampling duration code of the converter.
type SampleTime uint8

// Sample-time codes, named by the number of converter clock cycles they hold
// the input.
const (
	Cycles3 SampleTime = iota
	Cycles15
	Cycles28
	Cycles56
	Cycles84
	Cycles112
	Cycles144
	Cycles480
)

var sampleTimeCycles = [...]int{3, 15, 28, 56, 84, 112, 144, 480}

// Cycles returns the number of clock cycles for the code, or 0 if invalid.
func (st SampleTime) Cycles() int {
	if int(st) >= len(sampleTimeCycles) {
		return 0
	}
	return sampleTimeCycles[st]
}

func (st SampleTime) String() string {
	if c := st.Cycles(); c > 0 {
		return fmt.Sprintf("%dcycles", c)
	}
	return fmt.Sprintf("SampleTime(%d)", uint8(st))
}

// MarshalText writes the sample time as e.g. "480cycles".
func (st SampleTime) MarshalText() ([]byte, error) {
	if st.Cycles() == 0 {
		return nil, fmt.Errorf("invalid sample time code %d", uint8(st))
	}
	return []byte(st.String()), nil
}

// UnmarshalText accepts "480", "480cycles" or "cycles480".
func (st *SampleTime) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	s = strings.TrimPrefix(strings.TrimSuffix(s, "cycles"), "cycles")
	for code, c := range sampleTimeCycles {
		if s == fmt.Sprint(c) {
			*st = SampleTime(code)
			return nil
		}
	}
	return fmt.Errorf("unknown sample time %q", string(text))
}

// Hardware limits of one converter.
const (
	MaxRanks      = 16
	MaxInput      = 18
	MaxConverters = 3
	maxExtSel     = 15
)

// Register bits of the converter control registers.
const (
	cr1SCAN  = 1 << 8
	cr1OVRIE = 1 << 26

	cr2ADON    = 1 << 0
	cr2CONT    = 1 << 1
	cr2DMA     = 1 << 8
	cr2DDS     = 1 << 9
	cr2EXTSEL  = 24
	cr2EXTEN   = 28
	cr2SWSTART = 1 << 30

	sqr1L = 20

	ccrMultiIndependent = 0x00
	ccrMultiDual        = 0x06
	ccrMultiTriple      = 0x16
	ccrMultiMask        = 0x1f
	ccrDDS              = 1 << 13
	ccrDMAMode1         = 1 << 14
)

// TriggerKind says how a converter starts a conversion sequence.
type TriggerKind int

// Trigger kinds. Slaves in a synchronized block use TriggerSoftware encoding
// and are started by the master.
const (
	TriggerSoftware TriggerKind = iota
	TriggerExternal
)

// Rank is one entry of a conversion sequence.
type Rank struct {
	Input      uint8
	SampleTime SampleTime
}

// Sequence is the decoded form of one converter's register set.
type Sequence struct {
	Ranks      []Rank
	Continuous bool
	DMA        bool // per-converter DMA requests, only used without a multi-mode block
	DDS        bool // keep issuing DMA requests after the last transfer (circular)
	Trigger    TriggerKind
	ExtSel     uint8
}

// Registers is the register image programmed into one converter.
type Registers struct {
	CR1, CR2     uint32
	SMPR1, SMPR2 uint32
	SQR1, SQR2   uint32
	SQR3         uint32
}

// Encode packs a sequence into the converter register image.
func Encode(seq Sequence) (Registers, error) {
	var r Registers
	n := len(seq.Ranks)
	if n == 0 || n > MaxRanks {
		return r, fmt.Errorf("sequence length %d not in [1, %d]", n, MaxRanks)
	}
	sampleTimes := make(map[uint8]SampleTime)
	for i, rank := range seq.Ranks {
		if rank.Input > MaxInput {
			return r, fmt.Errorf("rank %d input %d exceeds %d", i+1, rank.Input, MaxInput)
		}
		if rank.SampleTime.Cycles() == 0 {
			return r, fmt.Errorf("rank %d has invalid sample time code %d", i+1, uint8(rank.SampleTime))
		}
		if st, ok := sampleTimes[rank.Input]; ok && st != rank.SampleTime {
			return r, fmt.Errorf("input %d given sample times %v and %v", rank.Input, st, rank.SampleTime)
		}
		sampleTimes[rank.Input] = rank.SampleTime

		in := uint32(rank.Input)
		st := uint32(rank.SampleTime)
		if rank.Input < 10 {
			r.SMPR2 |= st << (3 * in)
		} else {
			r.SMPR1 |= st << (3 * (in - 10))
		}
		switch {
		case i < 6:
			r.SQR3 |= in << (5 * i)
		case i < 12:
			r.SQR2 |= in << (5 * (i - 6))
		default:
			r.SQR1 |= in << (5 * (i - 12))
		}
	}
	r.SQR1 |= uint32(n-1) << sqr1L

	r.CR1 = cr1OVRIE
	if n > 1 {
		r.CR1 |= cr1SCAN
	}
	r.CR2 = cr2ADON
	if seq.Continuous {
		r.CR2 |= cr2CONT
	}
	if seq.DMA {
		r.CR2 |= cr2DMA
		if seq.DDS {
			r.CR2 |= cr2DDS
		}
	}
	if seq.Trigger == TriggerExternal {
		if seq.ExtSel > maxExtSel {
			return r, fmt.Errorf("external trigger source %d exceeds %d", seq.ExtSel, maxExtSel)
		}
		r.CR2 |= uint32(seq.ExtSel) << cr2EXTSEL
		r.CR2 |= 1 << cr2EXTEN // rising edge
	}
	return r, nil
}

// Decode unpacks a register image produced by Encode.
func Decode(r Registers) Sequence {
	n := int((r.SQR1>>sqr1L)&0xf) + 1
	seq := Sequence{Ranks: make([]Rank, n)}
	for i := 0; i < n; i++ {
		var in uint32
		switch {
		case i < 6:
			in = (r.SQR3 >> (5 * i)) & 0x1f
		case i < 12:
			in = (r.SQR2 >> (5 * (i - 6))) & 0x1f
		default:
			in = (r.SQR1 >> (5 * (i - 12))) & 0x1f
		}
		var st uint32
		if in < 10 {
			st = (r.SMPR2 >> (3 * in)) & 7
		} else {
			st = (r.SMPR1 >> (3 * (in - 10))) & 7
		}
		seq.Ranks[i] = Rank{Input: uint8(in), SampleTime: SampleTime(st)}
	}
	seq.Continuous = r.CR2&cr2CONT != 0
	seq.DMA = r.CR2&cr2DMA != 0
	seq.DDS = r.CR2&cr2DDS != 0
	if (r.CR2>>cr2EXTEN)&3 != 0 {
		seq.Trigger = TriggerExternal
		seq.ExtSel = uint8((r.CR2 >> cr2EXTSEL) & 0xf)
	}
	return seq
}

// CommonControl returns the common control word that puts the given number of
// converters into regular simultaneous mode with DMA mode 1 interleaving.
func CommonControl(converters int, circular bool) (uint32, error) {
	var ccr uint32
	switch converters {
	case 1:
		return ccrMultiIndependent, nil
	case 2:
		ccr = ccrMultiDual
	case 3:
		ccr = ccrMultiTriple
	default:
		return 0, fmt.Errorf("%d converters not in [1, %d]", converters, MaxConverters)
	}
	ccr |= ccrDMAMode1
	if circular {
		ccr |= ccrDDS
	}
	return ccr, nil
}

// DecodeCommon returns the number of synchronized converters and whether DMA
// requests continue after the last transfer.
func DecodeCommon(ccr uint32) (converters int, continuous bool) {
	switch ccr & ccrMultiMask {
	case ccrMultiDual:
		converters = 2
	case ccrMultiTriple:
		converters = 3
	default:
		converters = 1
	}
	return converters, ccr&ccrDDS != 0
}
