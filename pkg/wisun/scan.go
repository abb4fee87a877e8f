package wisun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// PANDescriptor is the EPANDESC block reported for a beacon
type PANDescriptor struct {
	Channel     string
	ChannelPage string
	PanID       string
	Addr        string
	LQI         uint8
	PairID      string
}

func (p PANDescriptor) RSSI() float64 {
	return RSSIFromLQI(p.LQI)
}

// RSSIFromLQI converts the link quality indicator into dBm
func RSSIFromLQI(lqi uint8) float64 {
	return 0.275*float64(lqi) - 104.27
}

var panDescLabels = []string{"Channel", "Channel Page", "Pan ID", "Addr", "LQI", "PairID"}

func (c *Connection) scan(ctx context.Context) (PANDescriptor, error) {
	c.setState(StateScanning)
	for d := c.opts.ScanMinDuration; d < c.opts.ScanMaxDuration; d++ {
		c.logger.Info("wisun@scan active scan", zap.Int("duration", d))
		if err := c.command(ctx, cmdScan(d)); err != nil {
			return PANDescriptor{}, err
		}
		pan, found, err := c.awaitScan(ctx)
		if err != nil {
			return PANDescriptor{}, err
		}
		if found {
			return pan, nil
		}
		c.logger.Info("wisun@scan no PAN found", zap.Int("duration", d))
	}
	return PANDescriptor{}, ErrScanExhausted
}

// awaitScan waits for the scan outcome. The scan itself can last minutes,
// so only ctx bounds the wait.
func (c *Connection) awaitScan(ctx context.Context) (PANDescriptor, bool, error) {
	for {
		line, err := c.queue.Next(ctx, 0)
		if err != nil {
			return PANDescriptor{}, false, err
		}
		ev := Classify(line)
		switch ev.Kind {
		case KindPANDesc:
			pan, err := c.readPANDesc(ctx)
			if err != nil {
				return PANDescriptor{}, false, err
			}
			if err := c.drainQuiet(ctx); err != nil {
				return PANDescriptor{}, false, err
			}
			return pan, true, nil
		case KindEvent:
			if ev.Code == EventActiveScanDone {
				return PANDescriptor{}, false, nil
			}
			c.logger.Debug("wisun@scan event", zap.Stringer("event", ev))
		case KindError:
			return PANDescriptor{}, false, c.violation(ev, "scan failed")
		default:
			if ev.Kind == KindBlank || c.skippable(ev) {
				continue
			}
			return PANDescriptor{}, false, c.violation(ev, "expected a scan event")
		}
	}
}

func (c *Connection) readPANDesc(ctx context.Context) (PANDescriptor, error) {
	values := make(map[string]string, len(panDescLabels))
	for _, expected := range panDescLabels {
		line, err := c.queue.Next(ctx, c.opts.ReadTimeout)
		if errors.Is(err, ErrReadTimeout) {
			return PANDescriptor{}, c.violation(Line{Raw: line}, "EPANDESC block truncated before "+expected)
		}
		if err != nil {
			return PANDescriptor{}, err
		}
		label, value, ok := labelledValue(line)
		if !ok || label != expected {
			return PANDescriptor{}, c.violation(Classify(line), "expected EPANDESC label "+expected)
		}
		values[label] = value
	}
	lqi, err := strconv.ParseUint(values["LQI"], 16, 8)
	if err != nil {
		return PANDescriptor{}, c.violation(Line{Raw: values["LQI"]}, fmt.Sprintf("invalid LQI: %v", err))
	}
	return PANDescriptor{
		Channel:     values["Channel"],
		ChannelPage: values["Channel Page"],
		PanID:       values["Pan ID"],
		Addr:        values["Addr"],
		LQI:         uint8(lqi),
		PairID:      values["PairID"],
	}, nil
}

// drainQuiet discards the rest of the scan output, ending once the modem
// stays silent for the quiet period
func (c *Connection) drainQuiet(ctx context.Context) error {
	for {
		line, err := c.queue.Next(ctx, c.opts.QuietPeriod)
		if errors.Is(err, ErrReadTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		c.logger.Debug("wisun@scan discarded", zap.String("line", line))
	}
}

func isIPv6(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() == nil
}
