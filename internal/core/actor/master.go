package actor

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	adactor "github.com/berfenger/wisun2metrics/internal/adapter/actor"
	"github.com/berfenger/wisun2metrics/internal/config"
	"github.com/berfenger/wisun2metrics/internal/core/domain"
	. "github.com/berfenger/wisun2metrics/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

var ErrMeterTerminated = errors.New("meter actor terminated")

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type MeterActorProvider func(*eventstream.EventStream) *adactor.MeterActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	meterActor         *actor.PID
	pollerActor        *actor.PID
	mqttActor          *actor.PID
	meterActorProvider MeterActorProvider
	mqttActorProvider  MQTTActorProvider
	onFatal            func(error)
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected       int
	states         map[string]string
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

// NewMasterOfPuppetsActor supervises the meter, poller and, when
// mqttActorProvider is set, the MQTT actors. onFatal is called once the meter
// link is lost for good.
func NewMasterOfPuppetsActor(config config.Config, eventStream *eventstream.EventStream, meterActorProvider MeterActorProvider,
	mqttActorProvider MQTTActorProvider, onFatal func(error), logger *zap.Logger) *MasterOfPuppetsActor {
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	act := &MasterOfPuppetsActor{
		config:             config,
		behavior:           actor.NewBehavior(),
		stash:              &Stash{},
		logger:             ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:        eventStream,
		meterActorProvider: meterActorProvider,
		mqttActorProvider:  mqttActorProvider,
		onFatal:            onFatal,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start Meter child
		meterActorPID, err := state.startMeterActor(ctx)
		if err != nil {
			panic(err)
		}
		state.meterActor = meterActorPID

		// start Poller child
		pollerActorPID, err := state.startPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.pollerActor = pollerActorPID

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID

			// start HA Discovery
			if state.config.MQTT.HADiscoveryEnable {
				_, err := state.startHADiscoveryActor(ctx)
				if err != nil {
					panic(err)
				}
			}
		}

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(state.children())

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.children())
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range state.children() {
			id := id
			PipeFutureToSelf(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetMeterInfoRequest:
		ctx.Forward(state.meterActor)
	case domain.RequestReadingsRequest:
		ctx.Send(state.meterActor, msg)
	case domain.MeterLinkFailed:
		state.logger.Error("master@default meter link failed", zap.Error(msg.Error))
		state.fatal(msg.Error)
	case *actor.Terminated:
		if msg.Who.Equal(state.meterActor) {
			state.logger.Error("master@default meter terminated")
			state.fatal(ErrMeterTerminated)
		}
	default:
		state.logger.Debug("master@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		state.currentHealthCheck.states[msg.Id] = msg.State
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case domain.MeterLinkFailed:
		state.logger.Error("master@healthcheck meter link failed", zap.Error(msg.Error))
		state.fatal(msg.Error)
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) fatal(err error) {
	if state.onFatal != nil {
		state.onFatal(err)
		state.onFatal = nil
	}
}

// children maps the actor id to the pid of every health checked child
func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_METER:  state.meterActor,
		domain.ACTOR_ID_POLLER: state.pollerActor,
	}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	return children
}

func (state *MasterOfPuppetsActor) startMeterActor(ctx actor.Context) (*actor.PID, error) {

	// a broken session is not recovered in process
	decider := func(reason interface{}) actor.Directive {
		log.Printf("meter failure, stopping. reason: %v", reason)
		return actor.StopDirective
	}
	supervisor := actor.NewOneForOneStrategy(0, 10*time.Second, decider)

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return state.meterActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	meterActorPID, err := ctx.SpawnNamed(meterProps, domain.ACTOR_ID_METER)
	if err != nil {
		return nil, err
	}

	return meterActorPID, nil
}

func (state *MasterOfPuppetsActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(state.config.SmartMeter.PollInterval(), state.meterActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	pollerActorPID, err := ctx.SpawnNamed(pollerProps, domain.ACTOR_ID_POLLER)
	if err != nil {
		return nil, err
	}

	return pollerActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.meterActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset(children map[string]*actor.PID) {
	state.expected = len(children)
	state.healthy = map[string]bool{}
	state.states = map[string]string{}
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if len(state.healthy) < state.expected {
		return false
	}
	for _, healthy := range state.healthy {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) summary() string {
	parts := make([]string, 0, len(state.states))
	for _, id := range []string{domain.ACTOR_ID_METER, domain.ACTOR_ID_POLLER, domain.ACTOR_ID_MQTT} {
		if s, ok := state.states[id]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", id, s))
		}
	}
	return strings.Join(parts, " ")
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.summary(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
