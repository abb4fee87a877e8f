package actor

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/wisun2metrics/internal/core/domain"
	"github.com/berfenger/wisun2metrics/internal/util/actorutil"
	"github.com/berfenger/wisun2metrics/pkg/meter"
	"github.com/berfenger/wisun2metrics/pkg/wisun"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	floats map[string]float64
	texts  map[string]string
	frames map[domain.FrameResult]int
}

func newRecorder(es *eventstream.EventStream) *recorder {
	r := &recorder{
		floats: map[string]float64{},
		texts:  map[string]string{},
		frames: map[domain.FrameResult]int{},
	}
	es.Subscribe(func(evt any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch ev := evt.(type) {
		case domain.FloatSensorUpdateEvent:
			r.floats[ev.Id] = ev.Value
		case domain.TextSensorUpdateEvent:
			r.texts[ev.Id] = ev.Value
		case domain.FrameReceivedEvent:
			r.frames[ev.Result]++
		}
	})
	return r
}

func (r *recorder) float(id string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.floats[id]
	return v, ok
}

func (r *recorder) frameCount(result domain.FrameResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[result]
}

func meterHealth(context *actor.RootContext, pid *actor.PID) domain.ActorHealthResponse {
	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		return domain.ActorHealthResponse{}
	}
	resp, _ := result.(domain.ActorHealthResponse)
	return resp
}

func TestMeterActorReadings(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	defer as.Shutdown()

	es := &eventstream.EventStream{}
	rec := newRecorder(es)
	link := NewTestMeterLink()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(link, meter.NewInterpreter(meter.Amperes), es, logger)
	})
	pid := context.Spawn(props)
	defer context.Stop(pid)

	assert.Eventually(func() bool {
		return meterHealth(context, pid).Healthy
	}, 3*time.Second, 50*time.Millisecond, "joined")

	rssi, ok := rec.float(domain.SENSOR_ID_LINK_RSSI)
	assert.True(ok, "link rssi published on join")
	assert.InDelta(-42.395, rssi, 0.001)

	result, err := context.RequestFuture(pid, domain.GetMeterInfoRequest{}, 2*time.Second).Result()
	assert.NoError(err)
	info, ok := result.(domain.GetMeterInfoResponse)
	assert.True(ok)
	assert.False(info.HasResponseError())
	assert.Equal(link.Link, info.Link)

	context.Send(pid, domain.RequestReadingsRequest{})

	assert.Eventually(func() bool {
		_, ok := rec.float(domain.SENSOR_ID_CURRENT_T)
		return ok
	}, 3*time.Second, 50*time.Millisecond, "readings published")

	energy, _ := rec.float(domain.SENSOR_ID_CUMULATIVE_ENERGY)
	assert.InDelta(12345.6, energy, 0.0001)
	watts, _ := rec.float(domain.SENSOR_ID_INSTANTANEOUS_WATT)
	assert.Equal(580.0, watts)
	currentR, _ := rec.float(domain.SENSOR_ID_CURRENT_R)
	assert.InDelta(5.8, currentR, 0.0001)
	currentT, _ := rec.float(domain.SENSOR_ID_CURRENT_T)
	assert.InDelta(0.2, currentT, 0.0001)
	assert.Equal(1, rec.frameCount(domain.FRAME_RESULT_DECODED))

	sent := link.Sent()
	if assert.Len(sent, 1) {
		assert.Equal("1081000105FF010288016204E100E000E700E800", hexUpper(sent[0]))
	}
}

func TestMeterActorDropsReadingsWhileJoining(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	defer as.Shutdown()

	es := &eventstream.EventStream{}
	link := NewTestMeterLink()
	link.EstablishErr = wisun.ErrScanExhausted

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(link, meter.NewInterpreter(meter.Amperes), es, logger)
	})
	pid := context.Spawn(props)
	defer context.Stop(pid)

	context.Send(pid, domain.RequestReadingsRequest{})

	assert.Eventually(func() bool {
		return meterHealth(context, pid).State == "failed"
	}, 3*time.Second, 50*time.Millisecond, "handshake failed")

	result, err := context.RequestFuture(pid, domain.GetMeterInfoRequest{}, 2*time.Second).Result()
	assert.NoError(err)
	info := result.(domain.GetMeterInfoResponse)
	assert.ErrorIs(info.ResponseError, wisun.ErrNotJoined)
	assert.Empty(link.Sent(), "nothing sent before join")
}

func TestMeterActorReportsFailureToParent(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	defer as.Shutdown()

	es := &eventstream.EventStream{}
	link := NewTestMeterLink()
	failures := make(chan error, 2)

	parent := actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			ctx.Spawn(actor.PropsFromProducer(func() actor.Actor {
				return NewMeterActor(link, meter.NewInterpreter(meter.Amperes), es, logger)
			}))
		case domain.MeterLinkFailed:
			failures <- msg.Error
		}
	})
	pid := context.Spawn(parent)
	defer context.Stop(pid)

	cause := errors.New("serial device gone")
	link.Drop(cause)

	select {
	case err := <-failures:
		assert.ErrorIs(err, cause)
	case <-time.After(3 * time.Second):
		t.Error("no failure reported to parent")
	}
}

func TestMeterActorFrameOutcomes(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	defer as.Shutdown()

	es := &eventstream.EventStream{}
	rec := newRecorder(es)
	link := NewTestMeterLink()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(link, meter.NewInterpreter(meter.Amperes), es, logger)
	})
	pid := context.Spawn(props)
	defer context.Stop(pid)

	assert.Eventually(func() bool {
		return meterHealth(context, pid).Healthy
	}, 3*time.Second, 50*time.Millisecond, "joined")

	otherPort := link.Notification(TestMeterResponse)
	otherPort.RemotePort = 0x02CC
	link.Inject(otherPort)
	// truncated property
	link.Inject(link.Notification("1081000102880105FF017201E004000102"))
	// sent by a controller object
	link.Inject(link.Notification("1081000105FF010288016201E70400000244"))
	// cumulative energy before any energy unit
	link.Inject(link.Notification("1081000102880105FF017201E0040001E240"))

	assert.Eventually(func() bool {
		return rec.frameCount(domain.FRAME_RESULT_DECODED) == 1
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(1, rec.frameCount(domain.FRAME_RESULT_MALFORMED))
	assert.Equal(1, rec.frameCount(domain.FRAME_RESULT_FOREIGN))
	_, ok := rec.float(domain.SENSOR_ID_CUMULATIVE_ENERGY)
	assert.False(ok, "energy dropped without unit")
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
