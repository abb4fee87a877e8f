package echonet

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	EHD1 byte = 0x10
	EHD2 byte = 0x81

	// HeaderLength is EHD1, EHD2, TID(2), SEOJ(3), DEOJ(3), ESV and OPC
	HeaderLength = 12

	// DefaultTID is the transaction id used for every request sent to the meter
	DefaultTID uint16 = 0x0001
)

var ErrMalformedFrame = errors.New("malformed ECHONET Lite frame")

// EOJ identifies an ECHONET object: class group, class and instance
type EOJ [3]byte

var (
	SmartMeterEOJ = EOJ{0x02, 0x88, 0x01} // low voltage smart electric energy meter
	ControllerEOJ = EOJ{0x05, 0xFF, 0x01} // management/controller
)

func (e EOJ) String() string {
	switch e {
	case SmartMeterEOJ:
		return "SmartMeter(028801)"
	case ControllerEOJ:
		return "Controller(05FF01)"
	default:
		return fmt.Sprintf("%02X%02X%02X", e[0], e[1], e[2])
	}
}

type ESV byte

const (
	ESVSetI    ESV = 0x60
	ESVSetC    ESV = 0x61
	ESVGet     ESV = 0x62
	ESVINF_REQ ESV = 0x63
	ESVSet_Res ESV = 0x71
	ESVGet_Res ESV = 0x72
	ESVINF     ESV = 0x73
	ESVINFC    ESV = 0x74
	ESVGet_SNA ESV = 0x52
)

func (e ESV) String() string {
	switch e {
	case ESVSetI:
		return "SetI"
	case ESVSetC:
		return "SetC"
	case ESVGet:
		return "Get"
	case ESVINF_REQ:
		return "INF_REQ"
	case ESVSet_Res:
		return "Set_Res"
	case ESVGet_Res:
		return "Get_Res"
	case ESVINF:
		return "INF"
	case ESVINFC:
		return "INFC"
	case ESVGet_SNA:
		return "Get_SNA"
	default:
		return fmt.Sprintf("(%02X)", byte(e))
	}
}

type EPC byte

const (
	EPCCumulativeEnergy     EPC = 0xE0
	EPCEnergyUnit           EPC = 0xE1
	EPCInstantaneousWatts   EPC = 0xE7
	EPCInstantaneousCurrent EPC = 0xE8
)

func (e EPC) String() string {
	switch e {
	case EPCCumulativeEnergy:
		return "CumulativeEnergy(E0)"
	case EPCEnergyUnit:
		return "EnergyUnit(E1)"
	case EPCInstantaneousWatts:
		return "InstantaneousWatts(E7)"
	case EPCInstantaneousCurrent:
		return "InstantaneousCurrent(E8)"
	default:
		return fmt.Sprintf("(%02X)", byte(e))
	}
}

// MeterEPCs are the properties requested on every poll. The unit comes
// first so a response carries its own coefficient.
var MeterEPCs = []EPC{
	EPCEnergyUnit,
	EPCCumulativeEnergy,
	EPCInstantaneousWatts,
	EPCInstantaneousCurrent,
}

type Property struct {
	EPC EPC
	EDT []byte
}

// PDC is the declared length of the property value
func (p Property) PDC() byte {
	return byte(len(p.EDT))
}

func (p Property) String() string {
	return fmt.Sprintf("%v[%d]%s", p.EPC, p.PDC(), strings.ToUpper(hex.EncodeToString(p.EDT)))
}

type Frame struct {
	TID        uint16
	SEOJ       EOJ
	DEOJ       EOJ
	ESV        ESV
	Properties []Property
}

// NewGetRequest builds a Get request from the controller to the smart meter
// asking for the given properties
func NewGetRequest(tid uint16, epcs ...EPC) Frame {
	props := make([]Property, 0, len(epcs))
	for _, epc := range epcs {
		props = append(props, Property{EPC: epc})
	}
	return Frame{
		TID:        tid,
		SEOJ:       ControllerEOJ,
		DEOJ:       SmartMeterEOJ,
		ESV:        ESVGet,
		Properties: props,
	}
}

// EncodedLength returns 12 + Σ(2+PDC)
func (f Frame) EncodedLength() int {
	n := HeaderLength
	for _, p := range f.Properties {
		n += 2 + len(p.EDT)
	}
	return n
}

func (f Frame) Encode() []byte {
	b := make([]byte, 0, f.EncodedLength())
	b = append(b, EHD1, EHD2)
	b = binary.BigEndian.AppendUint16(b, f.TID)
	b = append(b, f.SEOJ[:]...)
	b = append(b, f.DEOJ[:]...)
	b = append(b, byte(f.ESV), byte(len(f.Properties)))
	for _, p := range f.Properties {
		b = append(b, byte(p.EPC), p.PDC())
		b = append(b, p.EDT...)
	}
	return b
}

// FromSmartMeter reports whether the frame was sent by the smart meter object
func (f Frame) FromSmartMeter() bool {
	return f.SEOJ == SmartMeterEOJ
}

func (f Frame) String() string {
	props := make([]string, 0, len(f.Properties))
	for _, p := range f.Properties {
		props = append(props, p.String())
	}
	return fmt.Sprintf("TID:%04X SEOJ:%v DEOJ:%v ESV:%v OPC:%d [%s]",
		f.TID, f.SEOJ, f.DEOJ, f.ESV, len(f.Properties), strings.Join(props, " "))
}

// Decode parses a complete frame. The whole input must be consumed by the
// header and the declared properties.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(data))
	}
	if data[0] != EHD1 || data[1] != EHD2 {
		return nil, fmt.Errorf("%w: unexpected header %02X%02X", ErrMalformedFrame, data[0], data[1])
	}
	frame := &Frame{
		TID:  binary.BigEndian.Uint16(data[2:4]),
		SEOJ: EOJ(data[4:7]),
		DEOJ: EOJ(data[7:10]),
		ESV:  ESV(data[10]),
	}
	opc := int(data[11])
	frame.Properties = make([]Property, 0, opc)

	pos := HeaderLength
	for i := 0; i < opc; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("%w: property %d/%d header truncated at offset %d", ErrMalformedFrame, i+1, opc, pos)
		}
		epc := EPC(data[pos])
		pdc := int(data[pos+1])
		if pos+2+pdc > len(data) {
			return nil, fmt.Errorf("%w: property %v declares %d bytes, %d remain", ErrMalformedFrame, epc, pdc, len(data)-pos-2)
		}
		edt := make([]byte, pdc)
		copy(edt, data[pos+2:pos+2+pdc])
		frame.Properties = append(frame.Properties, Property{EPC: epc, EDT: edt})
		pos += 2 + pdc
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d properties", ErrMalformedFrame, len(data)-pos, opc)
	}
	return frame, nil
}

// DecodeHex decodes a frame given as hexadecimal digits, as carried by the
// modem's UDP notifications
func DecodeHex(payload string) (*Frame, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd hex length %d", ErrMalformedFrame, len(payload))
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return Decode(data)
}

// DecodeMeterResponse returns the properties of a frame sent by the smart
// meter. Frames from any other object yield no properties and no error.
func DecodeMeterResponse(payload string) ([]Property, *Frame, error) {
	frame, err := DecodeHex(payload)
	if err != nil {
		return nil, nil, err
	}
	if !frame.FromSmartMeter() {
		return nil, frame, nil
	}
	return frame.Properties, frame, nil
}
