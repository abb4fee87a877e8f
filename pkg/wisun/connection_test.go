package wisun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakeModem answers written commands with scripted lines
type fakeModem struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	out     chan []string
	respond func(cmd string, n int) []string

	mu       sync.Mutex
	commands []string
	counts   map[string]int
}

func newFakeModem(t *testing.T, respond func(cmd string, n int) []string) *fakeModem {
	pr, pw := io.Pipe()
	m := &fakeModem{
		pr:      pr,
		pw:      pw,
		out:     make(chan []string, 32),
		respond: respond,
		counts:  map[string]int{},
	}
	go func() {
		for lines := range m.out {
			for _, l := range lines {
				if _, err := io.WriteString(m.pw, l+"\r\n"); err != nil {
					return
				}
			}
		}
	}()
	t.Cleanup(func() {
		close(m.out)
		m.pw.Close()
	})
	return m
}

func (m *fakeModem) Read(p []byte) (int, error) {
	return m.pr.Read(p)
}

func (m *fakeModem) Write(p []byte) (int, error) {
	cmd := strings.TrimRight(string(p), "\r\n")
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	m.counts[cmd]++
	n := m.counts[cmd]
	m.mu.Unlock()
	if lines := m.respond(cmd, n); len(lines) > 0 {
		m.out <- lines
	}
	return len(p), nil
}

func (m *fakeModem) emit(lines ...string) {
	m.out <- lines
}

func (m *fakeModem) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *fakeModem) sentWithPrefix(prefix string) []string {
	r := []string{}
	for _, c := range m.sent() {
		if strings.HasPrefix(c, prefix) {
			r = append(r, c)
		}
	}
	return r
}

const (
	meterMAC = "001D129012345678"
	meterLLA = "FE80:0000:0000:0000:021D:1290:1234:5678"
)

var panDescBlock = []string{
	"EVENT 20 " + meterLLA,
	"EPANDESC",
	"  Channel:21",
	"  Channel Page:09",
	"  Pan ID:8888",
	"  Addr:" + meterMAC,
	"  LQI:E1",
	"  PairID:00AABBCC",
	"EVENT 22 " + testDest,
}

// meterScript is a cooperative modem finding the PAN on scan duration foundAt
// and answering the join with joinEvent
func meterScript(foundAt int, joinEvent string) func(string, int) []string {
	return func(cmd string, _ int) []string {
		switch {
		case cmd == "SKVER":
			return []string{cmd, "EVER 1.2.10", "OK"}
		case strings.HasPrefix(cmd, "SKSCAN "):
			var d int
			fmt.Sscanf(cmd, "SKSCAN 2 FFFFFFFF %X", &d)
			if d < foundAt {
				return []string{cmd, "OK", "EVENT 22 " + testDest}
			}
			return append([]string{cmd, "OK"}, panDescBlock...)
		case strings.HasPrefix(cmd, "SKLL64 "):
			return []string{cmd, meterLLA}
		case strings.HasPrefix(cmd, "SKJOIN "):
			return []string{cmd, "OK", "EVENT 21 " + meterLLA + " 00", joinEvent + " " + meterLLA}
		case strings.HasPrefix(cmd, "SKSENDTO "):
			return []string{"EVENT 21 " + meterLLA + " 00", "OK"}
		default:
			return []string{cmd, "OK"}
		}
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RouteBID = "00112233445566778899AABBCCDDEEFF"
	opts.Password = "0123456789AB"
	opts.ReadTimeout = 20 * time.Millisecond
	opts.BlankReadLimit = 2
	opts.MaxResends = 2
	opts.QuietPeriod = 30 * time.Millisecond
	return opts
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEstablish(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	modem := newFakeModem(t, meterScript(6, "EVENT 25"))
	conn := NewConnection(modem, testOptions(), logger)

	link, err := conn.Establish(testContext(t))
	if !assert.NoError(err) {
		return
	}

	assert.Equal(StateJoined, conn.State())
	assert.Equal("1.2.10", link.Version)
	assert.Equal("21", link.Channel)
	assert.Equal("09", link.ChannelPage)
	assert.Equal("8888", link.PanID)
	assert.Equal(meterMAC, link.MACAddr)
	assert.Equal("00AABBCC", link.PairID)
	assert.Equal(meterLLA, link.LinkLocalAddr)
	assert.Equal(uint8(0xE1), link.LQI)
	assert.InDelta(-42.395, link.RSSI, 1e-9)

	assert.Equal([]string{
		"SKSCAN 2 FFFFFFFF 4",
		"SKSCAN 2 FFFFFFFF 5",
		"SKSCAN 2 FFFFFFFF 6",
	}, modem.sentWithPrefix("SKSCAN"), "scanning stops once a PAN is found")
	assert.Equal([]string{"SKSREG S2 21", "SKSREG S3 8888"}, modem.sentWithPrefix("SKSREG"))
	assert.Equal([]string{"SKJOIN " + meterLLA}, modem.sentWithPrefix("SKJOIN"))

	_, err = conn.Establish(testContext(t))
	assert.ErrorIs(err, ErrAlreadyStarted)
}

func TestEstablishScanExhausted(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	opts := testOptions()
	opts.ScanMaxDuration = 6
	modem := newFakeModem(t, meterScript(100, "EVENT 25"))
	conn := NewConnection(modem, opts, logger)

	_, err := conn.Establish(testContext(t))
	assert.ErrorIs(err, ErrScanExhausted)
	assert.Equal([]string{"SKSCAN 2 FFFFFFFF 4", "SKSCAN 2 FFFFFFFF 5"}, modem.sentWithPrefix("SKSCAN"))
	assert.Empty(modem.sentWithPrefix("SKJOIN"))
	assert.Equal(StateScanning, conn.State())
}

func TestEstablishJoinRejected(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	modem := newFakeModem(t, meterScript(4, "EVENT 24"))
	conn := NewConnection(modem, testOptions(), logger)

	_, err := conn.Establish(testContext(t))
	assert.ErrorIs(err, ErrJoinRejected)
	assert.Equal(StateJoining, conn.State())
}

func TestEstablishCommandFailed(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	script := meterScript(4, "EVENT 25")
	modem := newFakeModem(t, func(cmd string, n int) []string {
		if strings.HasPrefix(cmd, "SKSETPWD ") {
			return []string{cmd, "FAIL ER04"}
		}
		return script(cmd, n)
	})
	conn := NewConnection(modem, testOptions(), logger)

	_, err := conn.Establish(testContext(t))
	assert.ErrorIs(err, ErrProtocolViolation)

	var violation *ProtocolViolationError
	if assert.True(errors.As(err, &violation)) {
		assert.Equal(StateVersionChecked, violation.State)
		assert.Equal("FAIL ER04", violation.Line)
		assert.NotContains(violation.Error(), "0123456789AB", "password is not leaked")
	}
}

func TestEstablishUnexpectedLine(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	cases := map[string]struct {
		cmdPrefix string
		answer    []string
		state     State
		line      string
	}{
		"after scan ok": {"SKSCAN ", []string{"SKSCAN 2 FFFFFFFF 4", "OK", "NOT AN EVENT"}, StateScanning, "NOT AN EVENT"},
		"after join ok": {"SKJOIN ", []string{"SKJOIN " + meterLLA, "OK", "GARBAGE LINE"}, StateJoining, "GARBAGE LINE"},
		"ok after join": {"SKJOIN ", []string{"SKJOIN " + meterLLA, "OK", "OK"}, StateJoining, "OK"},
		"labelled line": {"SKJOIN ", []string{"SKJOIN " + meterLLA, "OK", "  Channel:21"}, StateJoining, "  Channel:21"},
	}
	for name, tc := range cases {
		script := meterScript(4, "EVENT 25")
		modem := newFakeModem(t, func(cmd string, n int) []string {
			if strings.HasPrefix(cmd, tc.cmdPrefix) {
				return tc.answer
			}
			return script(cmd, n)
		})
		conn := NewConnection(modem, testOptions(), logger)

		_, err := conn.Establish(testContext(t))
		assert.ErrorIs(err, ErrProtocolViolation, name)
		var violation *ProtocolViolationError
		if assert.True(errors.As(err, &violation), name) {
			assert.Equal(tc.state, violation.State, name)
			assert.Equal(tc.line, violation.Line, name)
		}
		assert.NotEqual(StateJoined, conn.State(), name)
	}
}

func TestEstablishSkipsNoiseWhileJoining(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	script := meterScript(4, "EVENT 25")
	modem := newFakeModem(t, func(cmd string, n int) []string {
		if strings.HasPrefix(cmd, "SKJOIN ") {
			return []string{cmd, "OK", "", "EVENT 21 " + meterLLA + " 00",
				"ERXUDP " + meterLLA + " " + testDest + " 0E1A 0E1A " + meterMAC + " 1 0002 1081",
				"EVENT 25 " + meterLLA}
		}
		return script(cmd, n)
	})
	conn := NewConnection(modem, testOptions(), logger)

	_, err := conn.Establish(testContext(t))
	assert.NoError(err)
	assert.Equal(StateJoined, conn.State())
}

func TestScanDurationsAreHex(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	opts := testOptions()
	opts.ScanMinDuration = 9
	opts.ScanMaxDuration = 12
	modem := newFakeModem(t, meterScript(11, "EVENT 25"))
	conn := NewConnection(modem, opts, logger)

	_, err := conn.Establish(testContext(t))
	assert.NoError(err)
	assert.Equal([]string{"SKSCAN 2 FFFFFFFF 9", "SKSCAN 2 FFFFFFFF A", "SKSCAN 2 FFFFFFFF B"}, modem.sentWithPrefix("SKSCAN"))
}

func TestEstablishResendsOnSilence(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	script := meterScript(4, "EVENT 25")
	modem := newFakeModem(t, func(cmd string, n int) []string {
		if cmd == "SKVER" && n == 1 {
			return nil
		}
		return script(cmd, n)
	})
	conn := NewConnection(modem, testOptions(), logger)

	_, err := conn.Establish(testContext(t))
	assert.NoError(err)
	assert.Equal([]string{"SKVER", "SKVER"}, modem.sentWithPrefix("SKVER"))
}

func TestEstablishStalled(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	modem := newFakeModem(t, func(cmd string, n int) []string {
		return nil
	})
	conn := NewConnection(modem, testOptions(), logger)

	_, err := conn.Establish(testContext(t))
	assert.ErrorIs(err, ErrTransportStalled)
	// first send plus MaxResends
	assert.Equal([]string{"SKVER", "SKVER", "SKVER"}, modem.sentWithPrefix("SKVER"))
	assert.Equal(StateIdle, conn.State())
}

func TestEstablishCancelled(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	// a scan that never completes only ends with the context
	modem := newFakeModem(t, func(cmd string, n int) []string {
		if strings.HasPrefix(cmd, "SKSCAN ") {
			return []string{cmd, "OK"}
		}
		return meterScript(4, "EVENT 25")(cmd, n)
	})
	conn := NewConnection(modem, testOptions(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := conn.Establish(ctx)
	assert.ErrorIs(err, context.DeadlineExceeded)
}

func TestServeAndSendTo(t *testing.T) {

	assert := assert.New(t)
	logger := zap.NewExample()

	modem := newFakeModem(t, meterScript(4, "EVENT 25"))
	conn := NewConnection(modem, testOptions(), logger)

	assert.ErrorIs(conn.SendTo([]byte{0x10}), ErrNotJoined)
	assert.ErrorIs(conn.Serve(context.Background(), func(UDPNotification) {}), ErrNotJoined)

	_, err := conn.Establish(testContext(t))
	if !assert.NoError(err) {
		return
	}

	received := make(chan UDPNotification, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- conn.Serve(ctx, func(n UDPNotification) { received <- n })
	}()

	assert.NoError(conn.SendTo([]byte{0x10, 0x81}))
	assert.Equal([]string{"SKSENDTO 1 " + meterLLA + " 0E1A 1 0002 \x10\x81"}, modem.sentWithPrefix("SKSENDTO"))

	modem.emit(
		"ERXUDP "+meterLLA+" "+testDest+" 0E1A 0E1A "+meterMAC+" 1 0003 ABCD",
		"ERXUDP "+meterLLA+" "+testDest+" 0E1A 0E1A "+meterMAC+" 1 0012 "+testPayload,
	)

	select {
	case n := <-received:
		assert.Equal(testPayload, n.Payload, "malformed notification skipped")
		assert.Equal(meterLLA, n.Sender)
	case <-time.After(2 * time.Second):
		assert.Fail("no notification dispatched")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		assert.Fail("serve did not stop")
	}
}
