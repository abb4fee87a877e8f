package actor

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/wisun2metrics/internal/core/domain"
	"github.com/berfenger/wisun2metrics/internal/core/events"
	"github.com/berfenger/wisun2metrics/internal/util/actorutil"
	"github.com/berfenger/wisun2metrics/pkg/echonet"
	"github.com/berfenger/wisun2metrics/pkg/meter"
	"github.com/berfenger/wisun2metrics/pkg/wisun"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// MeterLink is the modem side of the meter actor, implemented by
// *wisun.Connection
type MeterLink interface {
	Establish(ctx context.Context) (wisun.Link, error)
	Serve(ctx context.Context, handler func(wisun.UDPNotification)) error
	SendTo(frame []byte) error
}

type MeterActor struct {
	behavior    actor.Behavior
	link        MeterLink
	interpreter meter.Interpreter
	state       meter.InterpreterState
	eventStream *eventstream.EventStream
	joined      wisun.Link
	cancel      context.CancelFunc
	logger      *zap.Logger
}

type linkResult struct {
	link wisun.Link
	err  error
}

type notificationReceived struct {
	notification wisun.UDPNotification
}

type serveStopped struct {
	err error
}

func NewMeterActor(link MeterLink, interpreter meter.Interpreter, eventStream *eventstream.EventStream, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		link:        link,
		interpreter: interpreter,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.JoiningReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) JoiningReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@joining started")
		runCtx, cancel := context.WithCancel(context.Background())
		state.cancel = cancel
		actorutil.NewBackgroundTask(ctx, func() (*linkResult, error) {
			link, err := state.link.Establish(runCtx)
			if err != nil {
				return nil, err
			}
			return &linkResult{link: link}, nil
		}).Recover(func(err error) linkResult {
			return linkResult{err: err}
		}).PipeTo(ctx.Self())
	case linkResult:
		if msg.err != nil {
			state.logger.Error("meter@joining handshake failed", zap.Error(msg.err))
			state.fail(ctx, msg.err)
			return
		}
		state.logger.Info("meter@joining joined", zap.String("addr", msg.link.LinkLocalAddr),
			zap.String("channel", msg.link.Channel), zap.Float64("rssi", msg.link.RSSI))
		state.joined = msg.link
		state.startServing(ctx)
		for _, ev := range events.LinkToUpdateEvents(msg.link) {
			state.eventStream.Publish(ev)
		}
		state.behavior.Become(state.JoinedReceive)
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@joining ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: false,
			State:   "joining",
		})
	case domain.GetMeterInfoRequest:
		actorutil.Respond(ctx, msg, domain.GetMeterInfoResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: wisun.ErrNotJoined,
			},
		})
	case domain.RequestReadingsRequest:
		state.logger.Debug("meter@joining RequestReadingsRequest dropped, not joined")
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("meter@joining default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) JoinedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RequestReadingsRequest:
		state.logger.Debug("meter@joined RequestReadingsRequest")
		frame := echonet.NewGetRequest(echonet.DefaultTID, echonet.MeterEPCs...)
		if err := state.link.SendTo(frame.Encode()); err != nil {
			state.logger.Error("meter@joined could not send request", zap.Error(err))
		}
	case notificationReceived:
		state.handleNotification(msg.notification)
	case serveStopped:
		state.logger.Error("meter@joined link lost", zap.Error(msg.err))
		state.fail(ctx, msg.err)
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@joined ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "joined",
		})
	case domain.GetMeterInfoRequest:
		state.logger.Debug("meter@joined GetMeterInfoRequest")
		actorutil.Respond(ctx, msg, domain.GetMeterInfoResponse{
			Link: state.joined,
		})
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("meter@joined default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) FailedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: false,
			State:   "failed",
		})
	case domain.GetMeterInfoRequest:
		actorutil.Respond(ctx, msg, domain.GetMeterInfoResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: wisun.ErrNotJoined,
			},
		})
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("meter@failed default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// startServing hands every notification to the mailbox, so the interpreter
// state is only touched from the actor
func (state *MeterActor) startServing(ctx actor.Context) {
	system := ctx.ActorSystem()
	self := ctx.Self()
	runCtx, cancel := context.WithCancel(context.Background())
	previous := state.cancel
	state.cancel = func() {
		cancel()
		if previous != nil {
			previous()
		}
	}
	go func() {
		err := state.link.Serve(runCtx, func(n wisun.UDPNotification) {
			system.Root.Send(self, notificationReceived{notification: n})
		})
		if errors.Is(err, context.Canceled) {
			return
		}
		system.Root.Send(self, serveStopped{err: err})
	}()
}

func (state *MeterActor) handleNotification(n wisun.UDPNotification) {
	if n.RemotePort != wisun.EchonetPort {
		state.logger.Debug("meter@joined notification on foreign port", zap.Uint16("port", n.RemotePort))
		return
	}
	props, frame, err := echonet.DecodeMeterResponse(n.Payload)
	if err != nil {
		state.logger.Warn("meter@joined malformed frame", zap.Error(err), zap.String("payload", n.Payload))
		state.eventStream.Publish(domain.FrameReceivedEvent{Result: domain.FRAME_RESULT_MALFORMED})
		return
	}
	if !frame.FromSmartMeter() {
		state.logger.Debug("meter@joined foreign frame", zap.Stringer("frame", frame))
		state.eventStream.Publish(domain.FrameReceivedEvent{Result: domain.FRAME_RESULT_FOREIGN})
		return
	}
	state.eventStream.Publish(domain.FrameReceivedEvent{Result: domain.FRAME_RESULT_DECODED})

	m, next := state.interpreter.Apply(state.state, props)
	state.state = next
	for _, ignored := range m.Ignored {
		state.logger.Warn("meter@joined property ignored", zap.Stringer("epc", ignored.EPC), zap.Error(ignored.Reason))
	}
	if m.EnergyUnavailable {
		state.logger.Info("meter@joined cumulative energy dropped, energy unit not received yet")
	}
	for _, ev := range events.MeasurementToUpdateEvents(m) {
		state.eventStream.Publish(ev)
	}
}

func (state *MeterActor) fail(ctx actor.Context, err error) {
	if ctx.Parent() != nil {
		ctx.Send(ctx.Parent(), domain.MeterLinkFailed{Error: err})
	}
	state.behavior.Become(state.FailedReceive)
}

func (state *MeterActor) stop() {
	if state.cancel != nil {
		state.cancel()
	}
}
