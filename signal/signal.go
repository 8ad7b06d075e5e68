// Package signal implements the signal definition and its bit-level codec:
// encoding a scaled physical value into a CAN frame payload and decoding it
// back, per a declarative signal descriptor (§4.2 of the governing
// specification).
package signal

import (
	"fmt"
	"math"

	"github.com/caran/canbus/bitutil"
)

// Endianness selects the bit-numbering convention a signal's bits are laid
// out in.
type Endianness int

const (
	Little Endianness = iota
	Big
)

func (e Endianness) String() string {
	if e == Big {
		return "big"
	}
	return "little"
}

// Type is the signal's native representation on the bus.
type Type int

const (
	Unsigned Type = iota
	Signed
	Single
	Double
)

func (t Type) String() string {
	switch t {
	case Signed:
		return "signed"
	case Single:
		return "single"
	case Double:
		return "double"
	default:
		return "unsigned"
	}
}

const (
	maxBitsInFullData = 64
	bitsPerByte       = 8
	bitsSingle        = 32
	bitsDouble        = 64

	maxValueFloatSingle = 3.4e38
	minValueFloatSingle = -3.4e38
	maxValueFloatDouble = 1.7e308
	minValueFloatDouble = -1.7e308
)

// Definition describes one signal: where it sits in a frame, how it is
// scaled, and its permitted range. A Definition constructed via New is
// always valid — invariants are enforced once, at construction time.
type Definition struct {
	Name       string
	StartBit   int
	NumBits    int
	Endianness Endianness
	Type       Type
	Scale      float64
	Offset     float64
	Min        *float64
	Max        *float64
	Default    *float64
	Unit       string
	Comment    string
}

// Option configures optional Definition attributes at construction time.
type Option func(*Definition)

func WithEndianness(e Endianness) Option { return func(d *Definition) { d.Endianness = e } }
func WithType(t Type) Option             { return func(d *Definition) { d.Type = t } }
func WithScale(s float64) Option         { return func(d *Definition) { d.Scale = s } }
func WithOffset(o float64) Option        { return func(d *Definition) { d.Offset = o } }
func WithUnit(u string) Option           { return func(d *Definition) { d.Unit = u } }
func WithComment(c string) Option        { return func(d *Definition) { d.Comment = c } }

func WithMin(v float64) Option { return func(d *Definition) { d.Min = &v } }
func WithMax(v float64) Option { return func(d *Definition) { d.Max = &v } }
func WithDefault(v float64) Option {
	return func(d *Definition) { d.Default = &v }
}

// New constructs a validated Definition. Defaults: scale=1, offset=0,
// endianness=little, type=unsigned, default=offset (matching the KCD
// format's own little-endian/unsigned defaults).
func New(name string, startBit, numBits int, opts ...Option) (*Definition, error) {
	d := &Definition{
		Name:       name,
		StartBit:   startBit,
		NumBits:    numBits,
		Endianness: Little,
		Type:       Unsigned,
		Scale:      1,
	}
	for _, o := range opts {
		o(d)
	}
	if d.Default == nil {
		def := d.Offset
		d.Default = &def
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Definition) validate() error {
	if d.StartBit < 0 || d.StartBit > maxBitsInFullData-1 {
		return fmt.Errorf("signal %q: startbit out of range: %d", d.Name, d.StartBit)
	}
	if d.NumBits <= 0 || d.NumBits > maxBitsInFullData {
		return fmt.Errorf("signal %q: numbits out of range: %d", d.Name, d.NumBits)
	}
	if d.Endianness == Little {
		stopbit := d.StartBit + d.NumBits - 1
		if stopbit >= maxBitsInFullData {
			return fmt.Errorf("signal %q: little-endian field overruns payload: startbit=%d numbits=%d", d.Name, d.StartBit, d.NumBits)
		}
	} else {
		startBackward, err := bitutil.BackwardOf(d.StartBit)
		if err != nil {
			return fmt.Errorf("signal %q: %w", d.Name, err)
		}
		stopBackward := startBackward + d.NumBits - 1
		if stopBackward >= maxBitsInFullData {
			return fmt.Errorf("signal %q: big-endian field overruns payload: startbit=%d numbits=%d", d.Name, d.StartBit, d.NumBits)
		}
	}
	switch d.Type {
	case Single:
		if d.NumBits != bitsSingle {
			return fmt.Errorf("signal %q: single-precision float requires 32 bits, got %d", d.Name, d.NumBits)
		}
	case Double:
		if d.NumBits != bitsDouble {
			return fmt.Errorf("signal %q: double-precision float requires 64 bits, got %d", d.Name, d.NumBits)
		}
	}
	if d.Scale <= 0 {
		return fmt.Errorf("signal %q: scale must be positive, got %v", d.Name, d.Scale)
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		return fmt.Errorf("signal %q: min %v greater than max %v", d.Name, *d.Min, *d.Max)
	}
	lo, hi := d.MinPossible(), d.MaxPossible()
	for attr, v := range map[string]*float64{"default": d.Default, "min": d.Min, "max": d.Max} {
		if v == nil {
			continue
		}
		if *v < lo || *v > hi {
			return fmt.Errorf("signal %q: %s %v out of representable range [%v, %v]", d.Name, attr, *v, lo, hi)
		}
	}
	return nil
}

// MaxPossible returns the largest physical value technically representable
// by this signal's type and width, after scale and offset.
func (d *Definition) MaxPossible() float64 {
	var maxUnpacked float64
	switch d.Type {
	case Unsigned:
		maxUnpacked = math.Ldexp(1, d.NumBits) - 1
	case Signed:
		maxUnpacked = math.Ldexp(1, d.NumBits-1) - 1
	case Single:
		maxUnpacked = maxValueFloatSingle
	default: // Double
		maxUnpacked = maxValueFloatDouble
	}
	return maxUnpacked*d.Scale + d.Offset
}

// MinPossible returns the smallest physical value technically representable
// by this signal's type and width, after scale and offset.
func (d *Definition) MinPossible() float64 {
	var minUnpacked float64
	switch d.Type {
	case Unsigned:
		minUnpacked = 0
	case Signed:
		minUnpacked = -math.Ldexp(1, d.NumBits-1)
	case Single:
		minUnpacked = minValueFloatSingle
	default: // Double
		minUnpacked = minValueFloatDouble
	}
	return minUnpacked*d.Scale + d.Offset
}

// MinimumDLC returns the smallest payload length (in bytes) that can hold
// this signal.
func (d *Definition) MinimumDLC() int {
	if d.Endianness == Big {
		return d.StartBit/bitsPerByte + 1
	}
	stopbit := d.StartBit + d.NumBits - 1
	return stopbit/bitsPerByte + 1
}

// Encode writes the physical value into data, which must already be at
// least MinimumDLC() bytes long. A nil value substitutes the signal's
// default. Returns an error if the value lies outside the representable
// range (never silently — clamping only narrows within that range).
func (d *Definition) Encode(data []byte, value *float64) error {
	if d.MinimumDLC() > len(data) {
		return fmt.Errorf("signal %q: payload too short to hold signal: have %d bytes, need %d", d.Name, len(data), d.MinimumDLC())
	}
	physical := *d.Default
	if value != nil {
		physical = *value
	}
	lo, hi := d.MinPossible(), d.MaxPossible()
	if physical < lo || physical > hi {
		return fmt.Errorf("signal %q: value %v out of representable range [%v, %v]", d.Name, physical, lo, hi)
	}
	if d.Min != nil && physical < *d.Min {
		physical = *d.Min
	}
	if d.Max != nil && physical > *d.Max {
		physical = *d.Max
	}
	scaled := (physical - d.Offset) / d.Scale

	if d.Type == Double {
		bits := math.Float64bits(scaled)
		if d.Endianness == Little {
			for i := 0; i < 8; i++ {
				data[i] = byte(bits)
				bits >>= 8
			}
		} else {
			for i := 7; i >= 0; i-- {
				data[i] = byte(bits)
				bits >>= 8
			}
		}
		return nil
	}

	var busValue uint64
	switch d.Type {
	case Unsigned:
		busValue = uint64(int64(scaled))
	case Signed:
		v, err := bitutil.ToTwosComplement(int64(scaled), d.NumBits)
		if err != nil {
			return fmt.Errorf("signal %q: %w", d.Name, err)
		}
		busValue = v
	case Single:
		busValue = uint64(math.Float32bits(float32(scaled)))
	}
	return bitutil.InsertUnsigned(data, d.Endianness == Big, d.NumBits, d.StartBit, busValue)
}

const (
	symbolLeastSignificantBit = "L"
	symbolMostSignificantBit  = "M"
	symbolOtherValidBit       = "X"
)

// Overview renders a 64-character mask of this signal's bit footprint: "L"
// at the least-significant bit, "M" at the most-significant bit, "X" at
// every other occupied bit, and a space everywhere else. Index 0 of the
// string corresponds to backward bit number 63 (stopbit is the normal bit
// number of the signal's most significant bit).
func (d *Definition) Overview() (overview string, stopbit int, err error) {
	cells := make([]byte, maxBitsInFullData)
	for i := range cells {
		cells[i] = ' '
	}

	if d.Endianness == Little {
		stopbit = d.StartBit + d.NumBits - 1
		stopBackward, err := bitutil.BackwardOf(stopbit)
		if err != nil {
			return "", 0, err
		}
		startBackward, err := bitutil.BackwardOf(d.StartBit)
		if err != nil {
			return "", 0, err
		}
		cells[maxBitsInFullData-1-stopBackward] = symbolMostSignificantBit[0]
		cells[maxBitsInFullData-1-startBackward] = symbolLeastSignificantBit[0]
		if d.NumBits > 2 {
			for i := d.StartBit + 1; i < stopbit; i++ {
				b, err := bitutil.BackwardOf(i)
				if err != nil {
					return "", 0, err
				}
				cells[maxBitsInFullData-1-b] = symbolOtherValidBit[0]
			}
		}
	} else {
		startBackward, err := bitutil.BackwardOf(d.StartBit)
		if err != nil {
			return "", 0, err
		}
		stopBackward := startBackward + d.NumBits - 1
		sb, err := bitutil.NormalOf(stopBackward)
		if err != nil {
			return "", 0, err
		}
		stopbit = sb
		cells[maxBitsInFullData-1-stopBackward] = symbolMostSignificantBit[0]
		cells[maxBitsInFullData-1-startBackward] = symbolLeastSignificantBit[0]
		if d.NumBits > 2 {
			for b := startBackward + 1; b < stopBackward; b++ {
				cells[maxBitsInFullData-1-b] = symbolOtherValidBit[0]
			}
		}
	}
	return string(cells), stopbit, nil
}

// Decode reads the physical value out of data, per this signal's descriptor.
func (d *Definition) Decode(data []byte) (float64, error) {
	if d.MinimumDLC() > len(data) {
		return 0, fmt.Errorf("signal %q: payload too short to hold signal: have %d bytes, need %d", d.Name, len(data), d.MinimumDLC())
	}

	var unpacked float64
	if d.Type == Double {
		var bits uint64
		if d.Endianness == Little {
			for i := 7; i >= 0; i-- {
				bits = bits<<8 | uint64(data[i])
			}
		} else {
			for i := 0; i < 8; i++ {
				bits = bits<<8 | uint64(data[i])
			}
		}
		unpacked = math.Float64frombits(bits)
	} else {
		busValue, err := bitutil.ExtractUnsigned(data, d.Endianness == Big, d.NumBits, d.StartBit)
		if err != nil {
			return 0, fmt.Errorf("signal %q: %w", d.Name, err)
		}
		switch d.Type {
		case Unsigned:
			unpacked = float64(busValue)
		case Signed:
			v, err := bitutil.FromTwosComplement(busValue, d.NumBits)
			if err != nil {
				return 0, fmt.Errorf("signal %q: %w", d.Name, err)
			}
			unpacked = float64(v)
		case Single:
			unpacked = float64(math.Float32frombits(uint32(busValue)))
		}
	}

	physical := unpacked*d.Scale + d.Offset
	if d.Min != nil && physical < *d.Min {
		physical = *d.Min
	}
	if d.Max != nil && physical > *d.Max {
		physical = *d.Max
	}
	return physical, nil
}
