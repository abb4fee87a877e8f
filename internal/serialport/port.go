package serialport

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/berfenger/wisun2metrics/internal/config"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

// pollTimeout bounds a single read so Close is noticed by a blocked reader
const pollTimeout = 500 * time.Millisecond

// Port is a serial port whose reads block until data arrives or the port is
// closed. Read timeouts of the underlying port are retried.
type Port struct {
	port   serial.Port
	closed atomic.Bool
	logger *zap.Logger
}

func Open(cfg config.SmartMeterConfig, logger *zap.Logger) (*Port, error) {
	baudRate := cfg.BaudRate
	if baudRate == 0 {
		baudRate = 115200
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  pollTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("serial port opened", zap.String("device", cfg.Device), zap.Int("baud_rate", baudRate))
	return newPort(port, logger), nil
}

func newPort(port serial.Port, logger *zap.Logger) *Port {
	return &Port{
		port:   port,
		logger: logger.With(zap.String("component", "serial")),
	}
}

func (p *Port) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, io.EOF
		}
		n, err := p.port.Read(b)
		if errors.Is(err, serial.ErrTimeout) {
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil && p.closed.Load() {
			return n, io.EOF
		}
		return n, err
	}
}

func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.port.Write(b)
}

func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.logger.Debug("serial port closed")
	return p.port.Close()
}
