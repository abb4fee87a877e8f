package wisun

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindBlank Kind = iota
	KindOK
	KindError
	KindEvent
	KindPANDesc
	KindData
	KindUDP
)

func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindOK:
		return "ok"
	case KindError:
		return "error"
	case KindEvent:
		return "event"
	case KindPANDesc:
		return "epandesc"
	case KindData:
		return "data"
	case KindUDP:
		return "erxudp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event codes reported by the modem as "EVENT <code> <sender> ..."
const (
	EventNSReceived     = 0x01
	EventNAReceived     = 0x02
	EventEchoReceived   = 0x05
	EventEDScanDone     = 0x1F
	EventBeaconReceived = 0x20
	EventUDPSent        = 0x21
	EventActiveScanDone = 0x22
	EventPANAFailed     = 0x24
	EventPANASucceeded  = 0x25
	EventSessionClosed  = 0x26
	EventPANATimeout    = 0x28
	EventSessionExpired = 0x29
)

const (
	prefixOK       = "OK"
	prefixFail     = "FAIL"
	prefixError    = "ERROR"
	prefixEvent    = "EVENT"
	prefixPANDesc  = "EPANDESC"
	prefixERXUDP   = "ERXUDP"
	prefixLabelled = " "
)

type Line struct {
	Kind Kind
	Raw  string
	// EVENT code
	Code int
	// EVENT sender address, FAIL error code
	Param string
}

func (e Line) String() string {
	if e.Kind == KindEvent {
		return fmt.Sprintf("EVENT %02X %s", e.Code, e.Param)
	}
	return fmt.Sprintf("%v %q", e.Kind, e.Raw)
}

// Classify assigns a kind to a line received from the modem. Trailing
// whitespace is not significant, leading spaces mark EPANDESC labels.
func Classify(line string) Line {
	raw := strings.TrimRight(line, "\r\n ")
	ev := Line{Kind: KindData, Raw: raw}

	fields := strings.Fields(raw)
	switch {
	case len(fields) == 0:
		ev.Kind = KindBlank
	case raw == prefixOK:
		ev.Kind = KindOK
	case fields[0] == prefixFail || fields[0] == prefixError:
		ev.Kind = KindError
		if len(fields) > 1 {
			ev.Param = fields[1]
		}
	case fields[0] == prefixEvent && len(fields) > 1:
		code, err := strconv.ParseUint(fields[1], 16, 8)
		if err != nil {
			// keep as data, an event without a code cannot be matched
			return ev
		}
		ev.Kind = KindEvent
		ev.Code = int(code)
		if len(fields) > 2 {
			ev.Param = fields[2]
		}
	case raw == prefixPANDesc:
		ev.Kind = KindPANDesc
	case fields[0] == prefixERXUDP:
		ev.Kind = KindUDP
	}
	return ev
}

// labelledValue splits an EPANDESC block line "  Label:value"
func labelledValue(line string) (string, string, bool) {
	if !strings.HasPrefix(line, prefixLabelled) {
		return "", "", false
	}
	label, value, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		return "", "", false
	}
	return label, value, true
}
