package wisun

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrReadTimeout     = errors.New("no line received in time")
	ErrTransportClosed = errors.New("transport closed")
)

const (
	defaultQueueSize = 64
	maxLineLength    = 4096
)

// LineQueue reads newline terminated lines from the transport on a single
// goroutine and hands them out in arrival order
type LineQueue struct {
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	err       error
	logger    *zap.Logger
}

func NewLineQueue(r io.Reader, size int, logger *zap.Logger) *LineQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &LineQueue{
		lines:  make(chan string, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go q.readLoop(r)
	return q
}

func (q *LineQueue) readLoop(r io.Reader) {
	defer close(q.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineLength), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		q.logger.Debug("serial <===", zap.String("line", redact(line)))
		select {
		case q.lines <- line:
		case <-q.done:
			return
		}
	}
	// written before close, read after the channel is drained
	q.err = scanner.Err()
	if q.err != nil {
		q.logger.Error("serial read failed", zap.Error(q.err))
	}
}

// Close stops handing out lines. The reader goroutine exits at its next
// line instead of blocking on a full queue nobody drains.
func (q *LineQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Next returns the next line. A timeout <= 0 waits until a line arrives,
// the transport closes or ctx is done.
func (q *LineQueue) Next(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case line, ok := <-q.lines:
		if !ok {
			if q.err != nil {
				return "", errors.Join(ErrTransportClosed, q.err)
			}
			return "", ErrTransportClosed
		}
		return line, nil
	case <-q.done:
		return "", ErrTransportClosed
	case <-expired:
		return "", ErrReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
