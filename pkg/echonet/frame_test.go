package echonet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Get_Res captured from a meter: E1=01, E0=0x0001E240, E7=580W, E8=R 5.8A T 0.2A
const capturedResponse = "1081000102880105FF017204" +
	"E10101" +
	"E0040001E240" +
	"E70400000244" +
	"E804003A0002"

func TestEncodeGetRequest(t *testing.T) {

	assert := assert.New(t)

	frame := NewGetRequest(DefaultTID, MeterEPCs...)
	b := frame.Encode()

	assert.Equal(12+2*len(MeterEPCs), len(b), "request length")
	assert.Equal("1081000105FF010288016204E100E000E700E800", strings.ToUpper(hex.EncodeToString(b)))
	assert.Equal(len(b), frame.EncodedLength())
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {

	cases := []struct {
		name string
		tid  uint16
		epcs []EPC
	}{
		{"single", 0x0001, []EPC{EPCInstantaneousWatts}},
		{"meter set", 0xBEEF, MeterEPCs},
		{"empty", 0xFFFF, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := NewGetRequest(c.tid, c.epcs...)
			decoded, err := Decode(req.Encode())
			require.NoError(t, err)

			assert.Equal(t, c.tid, decoded.TID)
			assert.Equal(t, ControllerEOJ, decoded.SEOJ)
			assert.Equal(t, SmartMeterEOJ, decoded.DEOJ)
			assert.Equal(t, ESVGet, decoded.ESV)
			assert.Equal(t, len(c.epcs), len(decoded.Properties))
			for i, p := range decoded.Properties {
				assert.Equal(t, c.epcs[i], p.EPC)
				assert.Equal(t, byte(0), p.PDC())
			}
		})
	}
}

func TestDecodeCapturedResponse(t *testing.T) {

	require := require.New(t)

	frame, err := DecodeHex(capturedResponse)
	require.NoError(err)

	want := &Frame{
		TID:  0x0001,
		SEOJ: SmartMeterEOJ,
		DEOJ: ControllerEOJ,
		ESV:  ESVGet_Res,
		Properties: []Property{
			{EPC: EPCEnergyUnit, EDT: []byte{0x01}},
			{EPC: EPCCumulativeEnergy, EDT: []byte{0x00, 0x01, 0xE2, 0x40}},
			{EPC: EPCInstantaneousWatts, EDT: []byte{0x00, 0x00, 0x02, 0x44}},
			{EPC: EPCInstantaneousCurrent, EDT: []byte{0x00, 0x3A, 0x00, 0x02}},
		},
	}
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
	}
	require.True(frame.FromSmartMeter())
	require.Equal(len(capturedResponse)/2, frame.EncodedLength(), "consumed bytes")
}

func TestDecodeConsumesDeclaredLength(t *testing.T) {

	assert := assert.New(t)

	frame := Frame{
		TID:  7,
		SEOJ: SmartMeterEOJ,
		DEOJ: ControllerEOJ,
		ESV:  ESVGet_Res,
		Properties: []Property{
			{EPC: 0x80, EDT: []byte{0x30}},
			{EPC: 0xD3, EDT: []byte{0x00, 0x00, 0x00, 0x01}},
			{EPC: 0x8A, EDT: []byte{}},
		},
	}
	b := frame.Encode()
	assert.Equal(12+(2+1)+(2+4)+(2+0), len(b))

	decoded, err := Decode(b)
	assert.NoError(err)
	assert.Equal(3, len(decoded.Properties))
	assert.Equal(EPC(0xD3), decoded.Properties[1].EPC, "unknown codes preserved")
}

func TestDecodeMalformed(t *testing.T) {

	cases := []struct {
		name    string
		payload string
	}{
		{"odd length", capturedResponse + "0"},
		{"non hex", strings.Replace(capturedResponse, "E1", "G1", 1)},
		{"short header", "10810001028801"},
		{"bad ehd", "1082000102880105FF017200"},
		{"truncated value", "1081000102880105FF017201E004000102"},
		{"missing property", "1081000102880105FF017202E10101"},
		{"trailing bytes", "1081000102880105FF017201E10101FF"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := DecodeHex(c.payload)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecodeMeterResponseForeign(t *testing.T) {

	assert := assert.New(t)

	// well formed response sent by a node profile object
	foreign := "108100010EF00105FF017201E10101"
	props, frame, err := DecodeMeterResponse(foreign)
	assert.NoError(err)
	assert.NotNil(frame)
	assert.False(frame.FromSmartMeter())
	assert.Empty(props)

	props, _, err = DecodeMeterResponse(capturedResponse)
	assert.NoError(err)
	assert.Len(props, 4)
}

func TestStringers(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("Get_Res", ESVGet_Res.String())
	assert.Equal("(99)", ESV(0x99).String())
	assert.Equal("EnergyUnit(E1)", EPCEnergyUnit.String())
	assert.Equal("0EF001", EOJ{0x0E, 0xF0, 0x01}.String())
	assert.Equal("InstantaneousWatts(E7)[4]00000244", Property{EPC: EPCInstantaneousWatts, EDT: []byte{0, 0, 2, 0x44}}.String())
}
