package serialport

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// fakePort replays a script of read results
type fakePort struct {
	mu      sync.Mutex
	reads   []readResult
	written []byte
	closed  bool
}

type readResult struct {
	data string
	err  error
}

func (f *fakePort) Open(*serial.Config) error { return nil }

func (f *fakePort) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return 0, serial.ErrTimeout
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	return copy(b, r.data), r.err
}

func (f *fakePort) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, b...)
	return len(b), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestReadRetriesTimeouts(t *testing.T) {

	assert := assert.New(t)

	fake := &fakePort{reads: []readResult{
		{err: serial.ErrTimeout},
		{err: serial.ErrTimeout},
		{data: "OK\r\n"},
	}}
	p := newPort(fake, zap.NewNop())

	buf := make([]byte, 16)
	n, err := p.Read(buf)
	assert.NoError(err)
	assert.Equal("OK\r\n", string(buf[:n]))
}

func TestReadKeepsPartialDataOnTimeout(t *testing.T) {

	assert := assert.New(t)

	fake := &fakePort{reads: []readResult{
		{data: "EVE", err: serial.ErrTimeout},
	}}
	p := newPort(fake, zap.NewNop())

	buf := make([]byte, 16)
	n, err := p.Read(buf)
	assert.NoError(err)
	assert.Equal("EVE", string(buf[:n]))
}

func TestReadPropagatesErrors(t *testing.T) {

	assert := assert.New(t)

	cause := errors.New("device unplugged")
	p := newPort(&fakePort{reads: []readResult{{err: cause}}}, zap.NewNop())

	_, err := p.Read(make([]byte, 16))
	assert.ErrorIs(err, cause)
}

func TestClose(t *testing.T) {

	assert := assert.New(t)

	fake := &fakePort{}
	p := newPort(fake, zap.NewNop())

	n, err := p.Write([]byte("SKVER\r\n"))
	assert.NoError(err)
	assert.Equal(7, n)
	assert.Equal("SKVER\r\n", string(fake.written))

	assert.NoError(p.Close())
	assert.NoError(p.Close(), "second close is a no-op")
	assert.True(fake.closed)

	_, err = p.Read(make([]byte, 16))
	assert.ErrorIs(err, io.EOF)
	_, err = p.Write([]byte("SKVER\r\n"))
	assert.ErrorIs(err, io.ErrClosedPipe)
}
