package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/wisun2metrics/internal/config"
	"github.com/berfenger/wisun2metrics/internal/core/domain"
	"github.com/berfenger/wisun2metrics/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const defaultDiscoveryRetry = 5 * time.Second

// HADiscoveryActor publishes the Home Assistant discovery messages once the
// meter has joined and MQTT is connected
type HADiscoveryActor struct {
	config            *config.Config
	behavior          actor.Behavior
	scheduler         *scheduler.TimerScheduler
	meterActor        *actor.PID
	mqttActor         *actor.PID
	meterActorHealthy bool
	mqttActorHealthy  bool
	healthyRecv       int
	retryInterval     time.Duration

	logger *zap.Logger
}

type discoveryRetry struct {
}

func NewHADiscoveryActor(config *config.Config, meterActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:        config,
		meterActor:    meterActor,
		mqttActor:     mqttActor,
		retryInterval: defaultDiscoveryRetry,
		behavior:      actor.NewBehavior(),
		logger:        actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.checkHealth(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// checkHealth asks the meter and MQTT actors whether they are ready
func (state *HADiscoveryActor) checkHealth(ctx actor.Context) {
	state.healthyRecv = 0
	state.meterActorHealthy = false
	state.mqttActorHealthy = false
	// Meter Actor Request
	actorutil.PipeFutureToSelf(ctx, ctx.RequestFuture(state.meterActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: false,
		}
	})
	// MQTT Actor Request
	actorutil.PipeFutureToSelf(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
	state.behavior.Become(state.WaitingHealthyReceive)
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_METER:
				state.meterActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.meterActorHealthy && state.mqttActorHealthy {
				// Ask Meter GetMeterInfoRequest
				actorutil.PipeFutureToSelf(ctx, ctx.RequestFuture(state.meterActor, domain.GetMeterInfoRequest{}, 2*time.Second), func(err error) any {
					return domain.GetMeterInfoResponse{
						ActorResponseMixIn: domain.ActorResponseMixIn{
							ResponseError: err,
						},
					}
				})
				state.behavior.Become(state.WaitingInfoReceive)
			} else {
				// the meter keeps joining for a while after boot
				state.logger.Debug("hadiscovery@healthcheck not ready, retrying", zap.Bool("meter", state.meterActorHealthy), zap.Bool("mqtt", state.mqttActorHealthy))
				state.scheduler.SendOnce(state.retryInterval, ctx.Self(), discoveryRetry{})
				state.behavior.Become(state.WaitingRetryReceive)
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) WaitingRetryReceive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case discoveryRetry:
		state.checkHealth(ctx)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetMeterInfoResponse:
		if msg.HasResponseError() {
			if msg.NotJoined() {
				state.logger.Debug("hadiscovery@info: meter not joined yet, retrying")
			} else {
				state.logger.Warn("hadiscovery@info: meter info unavailable, retrying", zap.Error(msg.GetResponseError()))
			}
			state.scheduler.SendOnce(state.retryInterval, ctx.Self(), discoveryRetry{})
			state.behavior.Become(state.WaitingRetryReceive)
			return
		}
		state.logger.Debug("hadiscovery@info: GetMeterInfoResponse", zap.Any("response", msg))

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: DiscoverySensors(state.config, msg),
		})
		state.behavior.Become(state.Done)

	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DiscoverySensors lists the bridge sensors followed by the meter sensors.
// Only the first sensor of each device carries the full device description.
// Measurements expire after three missed polls.
func DiscoverySensors(cfg *config.Config, info domain.GetMeterInfoResponse) []domain.GenericSensor {
	expireAfter := uint((3 * cfg.SmartMeter.PollInterval()).Seconds())

	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	meterDevice := domain.MeterDevice(info.Link)
	meterDevice.ViaDevice = bridgeDevice.Id
	meterSensors := domain.MeterSensors(meterDevice, currentUnitLabel(cfg.SmartMeter.CurrentUnit))
	for i := range meterSensors {
		if i > 0 {
			meterSensors[i].Device = domain.IdDevice(meterDevice)
		}
		if meterSensors[i].StateClass == domain.STATE_CLASS_MEASUREMENT {
			meterSensors[i].ExpireAfter = expireAfter
		}
		sensors = append(sensors, meterSensors[i])
	}
	return sensors
}

func currentUnitLabel(unit string) string {
	if unit == "mA" {
		return "mA"
	}
	return "A"
}
