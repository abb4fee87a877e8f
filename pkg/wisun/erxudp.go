package wisun

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedNotification = errors.New("malformed ERXUDP notification")

// UDPNotification is a UDP datagram delivered by the modem
type UDPNotification struct {
	Sender     string
	Dest       string
	RemotePort uint16
	LocalPort  uint16
	SenderLLA  string
	// RSSI and Side are only reported by some firmware variants
	RSSI    string
	Secured string
	Side    string
	Length  int
	// Payload as hexadecimal digits
	Payload string
}

// ParseERXUDP splits an ERXUDP line. Firmware variants report 9, 10 or 11
// space separated fields; the last two are always length and payload.
func ParseERXUDP(line string) (UDPNotification, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), " ")
	if len(parts) == 0 || parts[0] != prefixERXUDP {
		return UDPNotification{}, fmt.Errorf("%w: missing %s prefix", ErrMalformedNotification, prefixERXUDP)
	}

	n := UDPNotification{}
	var rport, lport, length string
	switch len(parts) {
	case 9:
		n.Sender, n.Dest, rport, lport, n.SenderLLA = parts[1], parts[2], parts[3], parts[4], parts[5]
		n.Secured = parts[6]
	case 10:
		n.Sender, n.Dest, rport, lport, n.SenderLLA = parts[1], parts[2], parts[3], parts[4], parts[5]
		n.Secured, n.Side = parts[6], parts[7]
	case 11:
		n.Sender, n.Dest, rport, lport, n.SenderLLA = parts[1], parts[2], parts[3], parts[4], parts[5]
		n.RSSI, n.Secured, n.Side = parts[6], parts[7], parts[8]
	default:
		return UDPNotification{}, fmt.Errorf("%w: %d fields", ErrMalformedNotification, len(parts))
	}
	length, n.Payload = parts[len(parts)-2], parts[len(parts)-1]

	var err error
	if n.RemotePort, err = parsePort(rport); err != nil {
		return UDPNotification{}, err
	}
	if n.LocalPort, err = parsePort(lport); err != nil {
		return UDPNotification{}, err
	}
	l, err := strconv.ParseUint(length, 16, 16)
	if err != nil {
		return UDPNotification{}, fmt.Errorf("%w: length %q: %v", ErrMalformedNotification, length, err)
	}
	n.Length = int(l)
	if len(n.Payload) != 2*n.Length {
		return UDPNotification{}, fmt.Errorf("%w: payload has %d hex digits, length declares %d bytes",
			ErrMalformedNotification, len(n.Payload), n.Length)
	}
	return n, nil
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q: %v", ErrMalformedNotification, s, err)
	}
	return uint16(p), nil
}
