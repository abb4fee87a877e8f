package actor

import (
	"context"
	"sync"

	"github.com/berfenger/wisun2metrics/pkg/wisun"
)

// Get_Res for E1, E0, E7 and E8: 12345.6 kWh, 580 W, R 5.8 A, T 0.2 A
const TestMeterResponse = "1081000102880105FF017204E10101E0040001E240E70400000244E804003A0002"

// TestMeterLink joins at once and answers every request with
// TestMeterResponse
type TestMeterLink struct {
	Link         wisun.Link
	EstablishErr error
	Response     string

	mu            sync.Mutex
	sent          [][]byte
	notifications chan wisun.UDPNotification
	lost          chan error
}

func NewTestMeterLink() *TestMeterLink {
	return &TestMeterLink{
		Link: wisun.Link{
			Version:       "1.2.10",
			Channel:       "21",
			ChannelPage:   "09",
			PanID:         "8888",
			MACAddr:       "001D129012345678",
			PairID:        "00ABCDEF",
			LinkLocalAddr: "FE80:0000:0000:0000:021D:1290:1234:5678",
			LQI:           0xE1,
			RSSI:          wisun.RSSIFromLQI(0xE1),
		},
		Response:      TestMeterResponse,
		notifications: make(chan wisun.UDPNotification, 16),
		lost:          make(chan error, 1),
	}
}

func (l *TestMeterLink) Establish(ctx context.Context) (wisun.Link, error) {
	if l.EstablishErr != nil {
		return wisun.Link{}, l.EstablishErr
	}
	return l.Link, nil
}

func (l *TestMeterLink) Serve(ctx context.Context, handler func(wisun.UDPNotification)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-l.lost:
			return err
		case n := <-l.notifications:
			handler(n)
		}
	}
}

func (l *TestMeterLink) SendTo(frame []byte) error {
	l.mu.Lock()
	l.sent = append(l.sent, append([]byte(nil), frame...))
	l.mu.Unlock()
	if l.Response != "" {
		l.Inject(l.Notification(l.Response))
	}
	return nil
}

// Notification wraps payload as the meter would deliver it
func (l *TestMeterLink) Notification(payload string) wisun.UDPNotification {
	return wisun.UDPNotification{
		Sender:     l.Link.LinkLocalAddr,
		Dest:       "FE80:0000:0000:0000:021D:1290:0000:0001",
		RemotePort: wisun.EchonetPort,
		LocalPort:  wisun.EchonetPort,
		SenderLLA:  l.Link.MACAddr,
		Secured:    "1",
		Length:     len(payload) / 2,
		Payload:    payload,
	}
}

func (l *TestMeterLink) Inject(n wisun.UDPNotification) {
	select {
	case l.notifications <- n:
	default:
	}
}

// Drop makes Serve return err
func (l *TestMeterLink) Drop(err error) {
	select {
	case l.lost <- err:
	default:
	}
}

func (l *TestMeterLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}
