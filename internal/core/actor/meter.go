package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/dds238mqtt/internal/core/domain"
	"github.com/berfenger/dds238mqtt/internal/core/port"
	. "github.com/berfenger/dds238mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// MeterActor drives a MeterPlugin. Start, ticks and description edits go through its
// mailbox; a running cycle keeps the actor in the polling state, which stashes
// everything but health checks, so the plugin never runs two callbacks at once.
type MeterActor struct {
	ActorWithStates
	scheduler    *scheduler.TimerScheduler
	cancelTick   scheduler.CancelFunc
	stash        *Stash
	plugin       port.MeterPlugin
	registry     port.DeviceRegistry
	devicePrefix string
	pollInterval time.Duration

	logger *zap.Logger
}

type meterTick struct {
}

type pollCycleDone struct {
	Result port.PollCycleResult
	Error  error
}

func NewMeterActor(plugin port.MeterPlugin, registry port.DeviceRegistry, devicePrefix string,
	pollInterval time.Duration, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		ActorWithStates: NewActorWithStates(),
		stash:           &Stash{},
		plugin:          plugin,
		registry:        registry,
		devicePrefix:    devicePrefix,
		pollInterval:    pollInterval,
		logger:          ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.Become(meterStartingState{actor: act})
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *MeterActor) health(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_METER,
		Healthy: true,
		State:   state.StateName(),
	})
}

func (state *MeterActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	state.plugin.OnStop()
}

func (state *MeterActor) scheduleTick(ctx actor.Context, interval time.Duration) {
	if interval <= 0 {
		interval = state.pollInterval
	}
	state.cancelTick = state.scheduler.RequestOnce(interval, ctx.Self(), meterTick{})
}

func (state *MeterActor) descriptionModified(ctx actor.Context, msg domain.DescriptionModifiedRequest) {
	key, err := domain.ParseDeviceKey(state.devicePrefix, msg.DeviceId)
	if err != nil {
		state.logger.Warn("meter@idle: description edit for unknown device", zap.String("device", msg.DeviceId), zap.Error(err))
		ForRequest(msg).Respond(ctx, domain.DescriptionModifiedResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
		return
	}
	if err := state.registry.WriteDescription(key, msg.Unit, msg.Description); err != nil {
		state.logger.Warn("meter@idle: description edit rejected", zap.Stringer("device", key), zap.Uint8("unit", msg.Unit), zap.Error(err))
		ForRequest(msg).Respond(ctx, domain.DescriptionModifiedResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
		return
	}
	state.plugin.OnModified(key, msg.Unit)
	ForRequest(msg).Respond(ctx, domain.DescriptionModifiedResponse{})
}

// Starting state

type meterStartingState struct {
	actor *MeterActor
}

func (state meterStartingState) Name() string {
	return "starting"
}

func (state meterStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("meter@starting started")
		if err := state.actor.plugin.OnStart(); err != nil {
			state.actor.logger.Error("meter@starting plugin start failed", zap.Error(err))
			panic(err)
		}
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		// first cycle runs right away
		ctx.Send(ctx.Self(), meterTick{})
		state.actor.Become(meterIdleState{actor: state.actor})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("meter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type meterIdleState struct {
	actor *MeterActor
}

func (state meterIdleState) Name() string {
	return "idle"
}

func (state meterIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("meter@idle: ActorHealthRequest")
		state.actor.health(ctx)
	case meterTick:
		state.actor.logger.Debug("meter@idle: tick")
		state.actor.BecomeStacked(meterPollingState{actor: state.actor}.OnEnter(ctx))
	case domain.DescriptionModifiedRequest:
		state.actor.logger.Debug("meter@idle: DescriptionModifiedRequest", zap.String("device", msg.DeviceId), zap.Uint8("unit", msg.Unit))
		state.actor.descriptionModified(ctx, msg)
	case *actor.Restarting:
		state.actor.stop()
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("meter@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Polling state

type meterPollingState struct {
	actor *MeterActor
}

func (state meterPollingState) Name() string {
	return "polling"
}

// OnEnter starts the cycle off the mailbox so health checks are answered while the
// bus is slow. Everything touching the plugin is stashed until pollCycleDone.
func (state meterPollingState) OnEnter(ctx actor.Context) meterPollingState {
	plugin := state.actor.plugin
	NewBackgroundTaskNoError(ctx, func() *pollCycleDone {
		return &pollCycleDone{Result: plugin.OnTick()}
	}).Recover(func(err error) pollCycleDone {
		return pollCycleDone{
			Result: plugin.OnTickAborted(err),
			Error:  err,
		}
	}).PipeToAsync(ctx.Self())
	return state
}

func (state meterPollingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollCycleDone:
		state.actor.logger.Debug("meter@polling cycle done",
			zap.Int("succeeded", len(msg.Result.Succeeded)),
			zap.Int("failed", len(msg.Result.Failed)),
			zap.Duration("next", msg.Result.NextInterval),
			zap.Bool("aborted", msg.Error != nil))
		state.actor.scheduleTick(ctx, msg.Result.NextInterval)
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case *actor.Restarting:
		state.actor.stop()
	case *actor.Stopping:
		state.actor.stop()
	default:
		state.actor.logger.Debug("meter@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}
