package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pushbot/internal/actor"
	"pushbot/internal/admin"
	"pushbot/internal/command"
	"pushbot/internal/config"
	"pushbot/internal/eventbus"
	"pushbot/internal/handlers"
	"pushbot/internal/metrics"
	"pushbot/internal/push"
	rtsup "pushbot/internal/runtime/supervisor"
	"pushbot/internal/storage"
	"pushbot/internal/task/engine"
	"pushbot/internal/task/scheduler"
	logx "pushbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	met   *metrics.Metrics
	loc   atomic.Pointer[time.Location]

	registry *push.Registry
	actors   *actor.Registry
	bots     []Actor

	engine *engine.Service
	sched  *scheduler.Service
	bridge *push.Bridge
	facade *push.Facade
	cmds   *command.Handler
	admin  *admin.Service

	newActor ActorFactory
}

type Option func(*App)

// WithActorFactory replaces the telegram actor constructor.
func WithActorFactory(f ActorFactory) Option { return func(a *App) { a.newActor = f } }

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, newActor: newTelegramActor}
	for _, o := range opts {
		o(a)
	}
	a.loc.Store(loadLocation(cfg.Scheduler.Timezone))

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}
	botCfgs, err := mapBotConfigs(cfg)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.bus = eventbus.New()
	a.met = metrics.New()
	a.met.BusStats(a.bus)

	a.registry = push.NewRegistry()
	handlers.Register(a.registry, handlers.Deps{Location: a.location})
	a.registry.Seal()

	a.actors = actor.NewRegistry(log.With(logx.String("comp", "actors")), a.bus)
	a.bridge = push.NewBridge(a.store, a.actors, a.registry,
		push.WithConfigResolver(cfgm),
		push.WithObserver(a.met),
		push.WithBus(a.bus),
		push.WithLogger(log.With(logx.String("comp", "push"))),
	)

	a.engine = engine.New(engCfg, log.With(logx.String("comp", "engine")), a.bus)
	a.sched = scheduler.New(schedCfg, a.engine, a.store, fireFunc(a.bridge), log.With(logx.String("comp", "scheduler")), a.bus)
	a.facade = push.NewFacade(a.store, triggerEngine{a.sched}, a.registry, log.With(logx.String("comp", "push")))

	a.cmds = command.New(a.facade, a.registry,
		command.WithOwners(func(id int64) bool { return a.cfgm.Get().Telegram.IsOwner(id) }),
		command.WithLocation(a.location),
		command.WithLogger(log.With(logx.String("comp", "commands"))),
	)

	for _, bc := range botCfgs {
		bot, err := a.newActor(ActorSpec{
			Config:   bc,
			Commands: commandFunc(a.cmds),
			Status:   a.actors.SetOnline,
		}, log)
		if err != nil {
			_ = a.store.Close()
			return nil, fmt.Errorf("bot %q: %w", bc.Name, err)
		}
		if err := a.actors.Add(bot, bot.Name()); err != nil {
			_ = a.store.Close()
			return nil, err
		}
		a.bots = append(a.bots, bot)
	}

	a.admin = admin.New(adminCfg, admin.Deps{
		Schedules: a.facade,
		Handlers:  a.registry.List,
		Scheduler: a.sched.Snapshot,
		Actors:    a.actors.Snapshot,
		Audit:     a.store.ListAudit,
		Metrics:   a.met.Handler(),
		Health:    a.health,
	}, log)

	a.registerGauges()
	return a, nil
}

func (a *App) Facade() *push.Facade          { return a.facade }
func (a *App) Commands() *command.Handler    { return a.cmds }
func (a *App) Actors() *actor.Registry       { return a.actors }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) location() *time.Location { return a.loc.Load() }

func (a *App) health() error {
	if a.sup != nil && a.sup.Context().Err() != nil {
		return errors.New("app stopping")
	}
	if !a.sched.Running() {
		return errors.New("scheduler not running")
	}
	return nil
}

func (a *App) registerGauges() {
	a.met.Gauge("actors", "online", "Bot accounts currently reachable.", func() float64 {
		n := 0
		for _, s := range a.actors.Snapshot() {
			if s.Online {
				n++
			}
		}
		return float64(n)
	})
	a.met.Gauge("scheduler", "triggers", "Triggers held by the scheduler.", func() float64 {
		return float64(len(a.sched.JobIDs()))
	})
	a.met.Gauge("engine", "queue_length", "Tasks waiting for a worker.", func() float64 {
		return float64(a.engine.Snapshot().QueueLen)
	})
	a.met.Gauge("engine", "in_flight", "Tasks currently running.", func() float64 {
		return float64(a.engine.Snapshot().InFlight)
	})
}

// Start brings the services up in dependency order and reconciles stored
// schedules with the scheduler.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAdminConfig(cfg); err != nil {
			return err
		}
		_, err := mapBotConfigs(cfg)
		return err
	})

	a.sup.Go0("metrics.consume", func(c context.Context) { a.met.Consume(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	for _, b := range a.bots {
		b.Start(run)
	}
	a.engine.Start(run)
	if err := a.sched.Start(run); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	n, err := a.facade.Reconcile(run)
	if err != nil {
		a.log.Warn("reconcile finished with errors", logx.Int("registered", n), logx.Err(err))
	}
	if a.admin != nil {
		a.admin.Start(run)
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("bots", len(a.bots)), logx.Int("handlers", len(a.registry.List())), logx.Int("schedules", n))
	return nil
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Triggers first so nothing new reaches the engine while it drains.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	a.step(ctx, "actors", 3*time.Second, func(c context.Context) error {
		for _, b := range a.bots {
			b.Stop(c)
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component cannot
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
