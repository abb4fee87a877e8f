package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/wisun2metrics/internal/core/domain"
	. "github.com/berfenger/wisun2metrics/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const POLL_JOB_KEY = "poll_readings"

// PollerActor asks the meter actor for readings on a fixed interval
type PollerActor struct {
	behavior   actor.Behavior
	scheduler  quartz.Scheduler
	cancel     context.CancelFunc
	interval   time.Duration
	meterActor *actor.PID
	polls      uint64

	logger *zap.Logger
}

type pollTick struct {
}

func NewPollerActor(interval time.Duration, meterActor *actor.PID, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		interval:   interval,
		meterActor: meterActor,
		behavior:   actor.NewBehavior(),
		logger:     ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started", zap.Duration("interval", state.interval))
		if err := state.startScheduler(ctx); err != nil {
			panic(err)
		}
	case pollTick:
		state.polls++
		state.logger.Debug("poller@default tick", zap.Uint64("poll", state.polls))
		ctx.Send(state.meterActor, domain.RequestReadingsRequest{})
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default ActorHealthRequest")
		healthy := state.scheduler != nil && state.scheduler.IsStarted()
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: healthy,
			State:   fmt.Sprintf("polls=%d", state.polls),
		})
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("poller@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) startScheduler(ctx actor.Context) error {
	// one tick at a time, late ticks are skipped instead of piling up
	state.scheduler = quartz.NewStdSchedulerWithOptions(quartz.StdSchedulerOptions{
		BlockingExecution: true,
		OutdatedThreshold: state.interval / 2,
		RetryInterval:     100 * time.Millisecond,
	}, nil, nil)

	system := ctx.ActorSystem()
	self := ctx.Self()
	pollJob := job.NewFunctionJobWithDesc(func(_ context.Context) (bool, error) {
		system.Root.Send(self, pollTick{})
		return true, nil
	}, "request smart meter readings")

	err := state.scheduler.ScheduleJob(quartz.NewJobDetail(pollJob, quartz.NewJobKey(POLL_JOB_KEY)),
		quartz.NewSimpleTrigger(state.interval))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	state.scheduler.Start(runCtx)
	return nil
}

func (state *PollerActor) stop() {
	if state.scheduler != nil && state.scheduler.IsStarted() {
		state.scheduler.Stop()
	}
	if state.cancel != nil {
		state.cancel()
	}
}
