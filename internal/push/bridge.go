package push

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"pushbot/internal/eventbus"
	logx "pushbot/pkg/logx"
)

// FireEvent is published on the event bus for every Fire outcome.
type FireEvent struct {
	JobID    string        `json:"job_id"`
	Tuple    Tuple         `json:"tuple"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Bridge is the trigger-time entry point called by the job engine.
type Bridge struct {
	store    DefinitionStore
	actors   ActorRegistry
	registry *Registry

	configs  ConfigResolver
	observer Observer
	bus      eventbus.Bus
	log      logx.Logger
}

type BridgeOption func(*Bridge)

func WithConfigResolver(r ConfigResolver) BridgeOption { return func(b *Bridge) { b.configs = r } }
func WithObserver(o Observer) BridgeOption             { return func(b *Bridge) { b.observer = o } }
func WithBus(bus eventbus.Bus) BridgeOption            { return func(b *Bridge) { b.bus = bus } }
func WithLogger(log logx.Logger) BridgeOption          { return func(b *Bridge) { b.log = log } }

func NewBridge(store DefinitionStore, actors ActorRegistry, registry *Registry, opts ...BridgeOption) *Bridge {
	b := &Bridge{store: store, actors: actors, registry: registry, log: logx.Nop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Fire runs one firing of the trigger tr.
//
// A nil result covers both a successful invocation and the expected skips
// (definition gone, definition disabled). Use IsRetryable to classify errors.
func (b *Bridge) Fire(ctx context.Context, tr Trigger) error {
	start := time.Now()
	t := tr.Tuple.Normalize()
	jobID := JobID(t)
	log := b.log.With(logx.String("job", jobID), logx.String("tuple", t.String()))

	def, ok, err := b.store.FindByTuple(ctx, t)
	if err != nil {
		err = fmt.Errorf("push: lookup %s: %w", t, err)
		b.finish(log, jobID, t, OutcomeFailed, start, err)
		return err
	}
	if !ok {
		log.Info("push skipped: definition gone")
		b.finish(log, jobID, t, OutcomeSkippedGone, start, nil)
		return nil
	}
	if !def.Enabled {
		log.Info("push skipped: definition disabled")
		b.finish(log, jobID, t, OutcomeSkippedDisabled, start, nil)
		return nil
	}

	var actor Actor
	if b.actors.IsOnline(t.ActorID) {
		actor, ok = b.actors.Get(t.ActorID)
	}
	if actor == nil || !ok {
		err = fmt.Errorf("%w: actor %d", ErrActorOffline, t.ActorID)
		log.Warn("push deferred: actor offline", logx.Int64("actor", t.ActorID))
		b.finish(log, jobID, t, OutcomeOffline, start, err)
		return err
	}

	reg, ok := b.registry.Resolve(t.HandlerKey)
	if !ok {
		err = &HandlerNotFoundError{Key: t.HandlerKey}
		log.Error("push failed: handler not registered", logx.String("handler", t.HandlerKey))
		b.finish(log, jobID, t, OutcomeRejected, start, err)
		return err
	}
	if !reg.Allows(t.TargetType) {
		err = fmt.Errorf("%w: %s for %s", ErrTargetNotAllowed, t.TargetType, reg.Key)
		log.Error("push failed: target not allowed", logx.String("handler", reg.Key))
		b.finish(log, jobID, t, OutcomeRejected, start, err)
		return err
	}

	// The stored parameter wins; the payload copy only covers definitions
	// written without one.
	var raw any = def.Parameter
	if isAbsent(def.Parameter) && !isAbsent(tr.Parameter) {
		raw = tr.Parameter
	}
	call, err := reg.prepare(raw)
	if err != nil {
		log.Error("push failed: parameter", logx.Err(err))
		b.finish(log, jobID, t, OutcomeRejected, start, err)
		return err
	}

	cfg, err := b.resolveConfig(reg)
	if err != nil {
		log.Error("push failed: config", logx.Err(err))
		b.finish(log, jobID, t, OutcomeRejected, start, err)
		return err
	}

	ec := &ExecutionContext{
		Actor:      actor,
		ActorID:    t.ActorID,
		TargetType: t.TargetType,
		TargetID:   t.TargetID,
		Event:      syntheticEvent(t),
		Config:     cfg,
	}
	err = Bind(ctx, ec, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("push handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return call(ctx, ec)
	})
	if err != nil {
		err = &HandlerError{Key: reg.Key, Err: err}
		log.Warn("push handler failed", logx.Err(err))
		b.finish(log, jobID, t, OutcomeFailed, start, err)
		return err
	}

	b.finish(log, jobID, t, OutcomeFired, start, nil)
	return nil
}

func (b *Bridge) resolveConfig(reg *Registration) (any, error) {
	if reg.decodeConfig == nil {
		return nil, nil
	}
	var raw []byte
	if b.configs != nil {
		raw, _ = b.configs.HandlerConfig(reg.Key)
	}
	cfg, err := reg.decodeConfig(raw)
	if err != nil {
		return nil, &ConfigError{Key: reg.Key, Err: err}
	}
	return cfg, nil
}

func (b *Bridge) finish(log logx.Logger, jobID string, t Tuple, outcome Outcome, start time.Time, err error) {
	dur := time.Since(start)
	if outcome == OutcomeFired {
		log.Debug("push fired", logx.Duration("dur", dur))
	}
	if b.observer != nil {
		b.observer.ObserveFire(t.HandlerKey, outcome, dur)
	}
	if b.bus == nil {
		return
	}
	ev := FireEvent{JobID: jobID, Tuple: t, Outcome: outcome, Duration: dur}
	typ := "push.fired"
	switch outcome {
	case OutcomeSkippedGone, OutcomeSkippedDisabled:
		typ = "push.skipped"
	case OutcomeFired:
	default:
		typ = "push.failed"
	}
	if err != nil {
		ev.Error = err.Error()
	}
	b.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
