package wisun

import (
	"context"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// Serve dispatches ERXUDP notifications to handler until ctx is done or the
// transport closes. Malformed notifications are logged and skipped.
func (c *Connection) Serve(ctx context.Context, handler func(UDPNotification)) error {
	if c.State() != StateJoined {
		return ErrNotJoined
	}
	for {
		line, err := c.queue.Next(ctx, 0)
		if err != nil {
			return err
		}
		ev := Classify(line)
		switch ev.Kind {
		case KindUDP:
			n, err := ParseERXUDP(ev.Raw)
			if err != nil {
				c.logger.Warn("wisun@serve dropped notification", zap.Error(err))
				continue
			}
			handler(n)
		case KindEvent:
			switch ev.Code {
			case EventSessionClosed, EventSessionExpired, EventPANATimeout:
				c.logger.Warn("wisun@serve session event", zap.Stringer("event", ev))
			default:
				c.logger.Debug("wisun@serve event", zap.Stringer("event", ev))
			}
		case KindError:
			c.logger.Warn("wisun@serve modem reported error", zap.String("line", ev.Raw), zap.String("command", c.lastCmd()))
		case KindBlank, KindOK:
		default:
			if strings.HasPrefix(ev.Raw, "SKSENDTO ") {
				continue
			}
			c.logger.Debug("wisun@serve ignored line", zap.Stringer("line", ev))
		}
	}
}

// SendTo sends a raw frame to the joined peer on the ECHONET Lite port
func (c *Connection) SendTo(frame []byte) error {
	if c.State() != StateJoined {
		return ErrNotJoined
	}
	cmd := SendToCommand(c.link.LinkLocalAddr, frame)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.lastCommand = strings.TrimRight(string(cmd[:len(cmd)-len(frame)]), " ")
	c.logger.Debug("serial ===>", zap.String("line", c.lastCommand), zap.String("frame", strings.ToUpper(hex.EncodeToString(frame))))
	_, err := c.writer.Write(cmd)
	return err
}
