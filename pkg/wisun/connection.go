package wisun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrScanExhausted     = errors.New("no PAN found in any scan attempt")
	ErrJoinRejected      = errors.New("PANA join rejected")
	ErrTransportStalled  = errors.New("modem does not answer")
	ErrNotJoined         = errors.New("not joined")
	ErrAlreadyStarted    = errors.New("handshake already started")
)

type State int32

const (
	StateIdle State = iota
	StateVersionChecked
	StatePasswordSet
	StateIdSet
	StateScanning
	StateScanned
	StateRegistersSet
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateVersionChecked:
		return "VersionChecked"
	case StatePasswordSet:
		return "PasswordSet"
	case StateIdSet:
		return "IdSet"
	case StateScanning:
		return "Scanning"
	case StateScanned:
		return "Scanned"
	case StateRegistersSet:
		return "RegistersSet"
	case StateJoining:
		return "Joining"
	case StateJoined:
		return "Joined"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type ProtocolViolationError struct {
	State  State
	Line   string
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("%v in state %v: %s (line %q)", ErrProtocolViolation, e.State, e.Reason, e.Line)
}

func (e *ProtocolViolationError) Unwrap() error {
	return ErrProtocolViolation
}

type Options struct {
	RouteBID string
	Password string
	// scan durations tried are ScanMinDuration <= d < ScanMaxDuration
	ScanMinDuration int
	ScanMaxDuration int
	// wait for a line before counting a blank read
	ReadTimeout time.Duration
	// consecutive blank reads before the last command is resent
	BlankReadLimit int
	MaxResends     int
	// silence that ends the discarding of lines after a PAN descriptor
	QuietPeriod time.Duration
	QueueSize   int
}

func DefaultOptions() Options {
	return Options{
		ScanMinDuration: 4,
		ScanMaxDuration: 10,
		ReadTimeout:     1 * time.Second,
		BlankReadLimit:  5,
		MaxResends:      3,
		QuietPeriod:     1 * time.Second,
		QueueSize:       defaultQueueSize,
	}
}

// Link is the steady state context of a joined connection
type Link struct {
	Version       string
	Channel       string
	ChannelPage   string
	PanID         string
	MACAddr       string
	PairID        string
	LinkLocalAddr string
	LQI           uint8
	RSSI          float64
}

// session is the handshake scratch state, converted into a Link once joined
type session struct {
	version string
	pan     PANDescriptor
	ipv6    string
}

// Connection drives the modem through the PAN join and then dispatches
// the UDP notifications it receives
type Connection struct {
	writer io.Writer
	queue  *LineQueue
	opts   Options
	logger *zap.Logger

	writeMu     sync.Mutex
	state       atomic.Int32
	lastCommand string
	started     atomic.Bool
	link        Link
}

func NewConnection(rw io.ReadWriter, opts Options, logger *zap.Logger) *Connection {
	logger = logger.With(zap.String("component", "wisun"))
	return &Connection{
		writer: rw,
		queue:  NewLineQueue(rw, opts.QueueSize, logger),
		opts:   opts,
		logger: logger,
	}
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.logger.Debug("wisun@state transition", zap.Stringer("from", c.State()), zap.Stringer("to", s))
	c.state.Store(int32(s))
}

// Close releases the line reader. The transport itself belongs to the
// caller and stays open.
func (c *Connection) Close() {
	c.queue.Close()
}

// Link is only meaningful once State() is StateJoined
func (c *Connection) Link() Link {
	return c.link
}

// Establish runs the handshake. Every error is fatal for this connection.
func (c *Connection) Establish(ctx context.Context) (Link, error) {
	if !c.started.CompareAndSwap(false, true) {
		return Link{}, ErrAlreadyStarted
	}
	s := session{}

	version, err := c.checkVersion(ctx)
	if err != nil {
		return Link{}, err
	}
	s.version = version
	c.logger.Info("wisun@handshake modem version", zap.String("version", version))
	c.setState(StateVersionChecked)

	if err := c.command(ctx, cmdSetPassword(c.opts.Password)); err != nil {
		return Link{}, err
	}
	c.setState(StatePasswordSet)

	if err := c.command(ctx, cmdSetRouteBID(c.opts.RouteBID)); err != nil {
		return Link{}, err
	}
	c.setState(StateIdSet)

	pan, err := c.scan(ctx)
	if err != nil {
		return Link{}, err
	}
	s.pan = pan
	c.logger.Info("wisun@handshake PAN found", zap.String("channel", pan.Channel),
		zap.String("panId", pan.PanID), zap.String("addr", pan.Addr), zap.Float64("rssi", pan.RSSI()))
	c.setState(StateScanned)

	if err := c.command(ctx, cmdSetRegister(registerChannel, pan.Channel)); err != nil {
		return Link{}, err
	}
	if err := c.command(ctx, cmdSetRegister(registerPanID, pan.PanID)); err != nil {
		return Link{}, err
	}
	c.setState(StateRegistersSet)

	ipv6, err := c.linkLocalAddress(ctx, pan.Addr)
	if err != nil {
		return Link{}, err
	}
	s.ipv6 = ipv6
	c.logger.Info("wisun@handshake IPv6 link local", zap.String("addr", ipv6))

	c.setState(StateJoining)
	if err := c.join(ctx, ipv6); err != nil {
		return Link{}, err
	}

	c.link = Link{
		Version:       s.version,
		Channel:       s.pan.Channel,
		ChannelPage:   s.pan.ChannelPage,
		PanID:         s.pan.PanID,
		MACAddr:       s.pan.Addr,
		PairID:        s.pan.PairID,
		LinkLocalAddr: s.ipv6,
		LQI:           s.pan.LQI,
		RSSI:          s.pan.RSSI(),
	}
	c.setState(StateJoined)
	c.logger.Info("wisun@handshake joined", zap.String("addr", ipv6))
	return c.link, nil
}

func (c *Connection) writeLine(cmd string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.lastCommand = cmd
	c.logger.Debug("serial ===>", zap.String("line", redact(cmd)))
	_, err := io.WriteString(c.writer, cmd+"\r\n")
	return err
}

func (c *Connection) lastCmd() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.lastCommand
}

func (c *Connection) violation(ev Line, reason string) error {
	return &ProtocolViolationError{State: c.State(), Line: ev.Raw, Reason: reason}
}

// exchange reads the answer of the last command, resending it when the
// modem stays silent
type exchange struct {
	c       *Connection
	blanks  int
	resends int
}

func (c *Connection) newExchange() *exchange {
	return &exchange{c: c}
}

func (ex *exchange) next(ctx context.Context) (Line, error) {
	c := ex.c
	for {
		line, err := c.queue.Next(ctx, c.opts.ReadTimeout)
		if err != nil && !errors.Is(err, ErrReadTimeout) {
			return Line{}, err
		}
		ev := Classify(line)
		if err == nil && ev.Kind != KindBlank {
			ex.blanks = 0
			return ev, nil
		}
		ex.blanks++
		if ex.blanks < c.opts.BlankReadLimit {
			continue
		}
		if ex.resends >= c.opts.MaxResends {
			return Line{}, fmt.Errorf("%w: %q unanswered after %d resends", ErrTransportStalled, redact(c.lastCmd()), ex.resends)
		}
		ex.resends++
		ex.blanks = 0
		c.logger.Debug("wisun@exchange blank line limit exceeded, resending", zap.String("command", redact(c.lastCmd())), zap.Int("resend", ex.resends))
		if err := c.writeLine(c.lastCmd()); err != nil {
			return Line{}, err
		}
	}
}

func (c *Connection) isEcho(ev Line) bool {
	return ev.Kind == KindData && ev.Raw == c.lastCmd()
}

// skippable reports lines tolerated while waiting for an answer
func (c *Connection) skippable(ev Line) bool {
	switch {
	case c.isEcho(ev):
		return true
	case ev.Kind == KindEvent:
		c.logger.Debug("wisun@exchange event while waiting", zap.Stringer("event", ev))
		return true
	case ev.Kind == KindUDP:
		c.logger.Debug("wisun@exchange notification before join dropped")
		return true
	}
	return false
}

// command sends cmd and waits for OK
func (c *Connection) command(ctx context.Context, cmd string) error {
	if err := c.writeLine(cmd); err != nil {
		return err
	}
	return c.expectOK(ctx, c.newExchange())
}

func (c *Connection) expectOK(ctx context.Context, ex *exchange) error {
	for {
		ev, err := ex.next(ctx)
		if err != nil {
			return err
		}
		if ev.Kind == KindOK {
			return nil
		}
		if c.skippable(ev) {
			continue
		}
		if ev.Kind == KindError {
			return c.violation(ev, fmt.Sprintf("%q failed", redact(c.lastCmd())))
		}
		return c.violation(ev, fmt.Sprintf("expected OK for %q", redact(c.lastCmd())))
	}
}

func (c *Connection) checkVersion(ctx context.Context) (string, error) {
	if err := c.writeLine(cmdVersion()); err != nil {
		return "", err
	}
	ex := c.newExchange()
	version := ""
	for {
		ev, err := ex.next(ctx)
		if err != nil {
			return "", err
		}
		switch {
		case ev.Kind == KindOK && version != "":
			return version, nil
		case ev.Kind == KindData && len(ev.Raw) > 5 && ev.Raw[:5] == "EVER ":
			version = ev.Raw[5:]
		case c.skippable(ev):
		default:
			return "", c.violation(ev, "expected EVER")
		}
	}
}

func (c *Connection) linkLocalAddress(ctx context.Context, mac string) (string, error) {
	if err := c.writeLine(cmdLinkLocal(mac)); err != nil {
		return "", err
	}
	ex := c.newExchange()
	for {
		ev, err := ex.next(ctx)
		if err != nil {
			return "", err
		}
		switch {
		case c.skippable(ev):
		case ev.Kind == KindData && isIPv6(ev.Raw):
			return ev.Raw, nil
		default:
			return "", c.violation(ev, "expected an IPv6 address")
		}
	}
}

func (c *Connection) join(ctx context.Context, addr string) error {
	if err := c.command(ctx, cmdJoin(addr)); err != nil {
		return err
	}
	for {
		line, err := c.queue.Next(ctx, 0)
		if err != nil {
			return err
		}
		ev := Classify(line)
		switch ev.Kind {
		case KindEvent:
			switch ev.Code {
			case EventPANAFailed:
				return fmt.Errorf("%w by %s", ErrJoinRejected, ev.Param)
			case EventPANASucceeded:
				return nil
			default:
				c.logger.Debug("wisun@join event", zap.Stringer("event", ev))
			}
		case KindError:
			return c.violation(ev, "join failed")
		default:
			if ev.Kind == KindBlank || c.skippable(ev) {
				continue
			}
			return c.violation(ev, "expected a PANA event")
		}
	}
}
