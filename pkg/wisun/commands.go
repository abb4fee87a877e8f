package wisun

import (
	"fmt"
	"strings"
)

const (
	// ECHONET Lite UDP port 3610
	EchonetPort = 0x0E1A

	scanModeActiveWithIE = 2
	scanChannelMask      = "FFFFFFFF"
	sendSecured          = 1
	sendHandle           = 1

	registerChannel = "S2"
	registerPanID   = "S3"
)

func cmdVersion() string {
	return "SKVER"
}

func cmdSetPassword(password string) string {
	return fmt.Sprintf("SKSETPWD C %s", password)
}

func cmdSetRouteBID(id string) string {
	return fmt.Sprintf("SKSETRBID %s", id)
}

// cmdScan takes the duration as a hex digit like every numeric argument
func cmdScan(duration int) string {
	return fmt.Sprintf("SKSCAN %d %s %X", scanModeActiveWithIE, scanChannelMask, duration)
}

func cmdSetRegister(name, value string) string {
	return fmt.Sprintf("SKSREG %s %s", name, value)
}

func cmdLinkLocal(mac string) string {
	return fmt.Sprintf("SKLL64 %s", mac)
}

func cmdJoin(addr string) string {
	return fmt.Sprintf("SKJOIN %s", addr)
}

// SendToCommand prefixes a raw frame with the UDP send command header. No
// delimiter follows the header, the declared length delimits the frame.
func SendToCommand(addr string, frame []byte) []byte {
	head := fmt.Sprintf("SKSENDTO %d %s %04X %d %04X ", sendHandle, addr, EchonetPort, sendSecured, len(frame))
	b := make([]byte, 0, len(head)+len(frame))
	b = append(b, head...)
	return append(b, frame...)
}

// redact hides the route-B password in logged command lines
func redact(cmd string) string {
	if strings.HasPrefix(cmd, "SKSETPWD ") {
		return "SKSETPWD C *redacted*"
	}
	return cmd
}
