package meter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/berfenger/wisun2metrics/pkg/echonet"
	"k8s.io/utils/ptr"
)

var (
	ErrUnrecognizedProperty    = errors.New("unrecognized property")
	ErrUnrecognizedCoefficient = errors.New("unrecognized energy unit coefficient")
	ErrInvalidLength           = errors.New("invalid property value length")
)

// singlePhaseTwoWire is reported in the T phase slot by meters wired single-phase 2-wire
const singlePhaseTwoWire uint16 = 0x7FFE

// E1 value -> kWh multiplier
var energyUnitCoefficients = map[byte]float64{
	0x00: 1.0,
	0x01: 0.1,
	0x02: 0.01,
	0x03: 0.001,
	0x04: 0.0001,
	0x0A: 10.0,
	0x0B: 100.0,
	0x0C: 1000.0,
	0x0D: 10000.0,
}

// CurrentUnit selects the unit instantaneous currents are reported in.
// The meter reports 0.1 A steps: Amperes multiplies by 0.1, Milliamperes by 100.
type CurrentUnit string

const (
	Amperes      CurrentUnit = "A"
	Milliamperes CurrentUnit = "mA"
)

func ParseCurrentUnit(s string) (CurrentUnit, error) {
	switch strings.ToLower(s) {
	case "", "a", "ampere", "amperes":
		return Amperes, nil
	case "ma", "milliampere", "milliamperes":
		return Milliamperes, nil
	}
	return "", fmt.Errorf("unknown current unit %q", s)
}

func (u CurrentUnit) scale() float64 {
	if u == Milliamperes {
		return 100
	}
	return 0.1
}

// InterpreterState holds the last energy unit coefficient seen on this session
type InterpreterState struct {
	Coefficient *float64
}

func (s InterpreterState) HasCoefficient() bool {
	return s.Coefficient != nil
}

type IgnoredProperty struct {
	EPC    echonet.EPC
	Reason error
}

type Measurement struct {
	// nil when no reading arrived or it could not be scaled
	CumulativeKWh *float64
	// a cumulative reading arrived before any energy unit
	EnergyUnavailable bool
	Watts             *int32
	CurrentR          *float64
	// nil for single-phase 2-wire meters
	CurrentT    *float64
	CurrentUnit CurrentUnit
	Ignored     []IgnoredProperty
}

// Empty reports whether no value can be emitted
func (m Measurement) Empty() bool {
	return m.CumulativeKWh == nil && m.Watts == nil && m.CurrentR == nil && m.CurrentT == nil
}

type Interpreter struct {
	CurrentUnit CurrentUnit
}

func NewInterpreter(unit CurrentUnit) Interpreter {
	if unit == "" {
		unit = Amperes
	}
	return Interpreter{CurrentUnit: unit}
}

// Apply interprets the properties of one frame. The returned state must
// replace the caller's state. The unit of a frame applies to the cumulative
// reading of the same frame regardless of property order.
func (in Interpreter) Apply(state InterpreterState, props []echonet.Property) (Measurement, InterpreterState) {
	m := Measurement{CurrentUnit: in.CurrentUnit}
	var rawEnergy *uint32

	ignore := func(epc echonet.EPC, err error) {
		m.Ignored = append(m.Ignored, IgnoredProperty{EPC: epc, Reason: err})
	}

	for _, p := range props {
		switch p.EPC {
		case echonet.EPCEnergyUnit:
			if len(p.EDT) != 1 {
				ignore(p.EPC, lengthError(p, 1))
				continue
			}
			coeff, ok := energyUnitCoefficients[p.EDT[0]]
			if !ok {
				ignore(p.EPC, fmt.Errorf("%w: 0x%02X", ErrUnrecognizedCoefficient, p.EDT[0]))
				continue
			}
			state.Coefficient = ptr.To(coeff)
		case echonet.EPCCumulativeEnergy:
			if len(p.EDT) != 4 {
				ignore(p.EPC, lengthError(p, 4))
				continue
			}
			rawEnergy = ptr.To(binary.BigEndian.Uint32(p.EDT))
		case echonet.EPCInstantaneousWatts:
			if len(p.EDT) != 4 {
				ignore(p.EPC, lengthError(p, 4))
				continue
			}
			m.Watts = ptr.To(int32(binary.BigEndian.Uint32(p.EDT)))
		case echonet.EPCInstantaneousCurrent:
			if len(p.EDT) != 4 {
				ignore(p.EPC, lengthError(p, 4))
				continue
			}
			r := binary.BigEndian.Uint16(p.EDT[0:2])
			t := binary.BigEndian.Uint16(p.EDT[2:4])
			m.CurrentR = ptr.To(float64(r) * in.CurrentUnit.scale())
			if t != singlePhaseTwoWire {
				m.CurrentT = ptr.To(float64(t) * in.CurrentUnit.scale())
			}
		default:
			ignore(p.EPC, fmt.Errorf("%w: %v", ErrUnrecognizedProperty, p.EPC))
		}
	}

	if rawEnergy != nil {
		if state.HasCoefficient() {
			m.CumulativeKWh = ptr.To(float64(*rawEnergy) * *state.Coefficient)
		} else {
			m.EnergyUnavailable = true
		}
	}

	return m, state
}

func lengthError(p echonet.Property, want int) error {
	return fmt.Errorf("%w: %v has %d bytes, want %d", ErrInvalidLength, p.EPC, len(p.EDT), want)
}
