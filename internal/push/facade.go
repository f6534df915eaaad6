package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/maphash"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robfig/cron/v3"

	logx "pushbot/pkg/logx"
)

// CronParser accepts 5 or 6 fields (leading seconds optional) and descriptors
// such as @daily or @every 1h. The trigger registry parses with the same options.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduleRequest creates or replaces the schedule of one tuple.
// Exactly one of Cron and RunAt must be set.
type ScheduleRequest struct {
	Tuple
	Parameter   any
	Cron        string
	RunAt       time.Time
	Disabled    bool
	Description string
}

type requesterKey struct{}

// WithRequester records the user id behind a mutation for the audit log.
func WithRequester(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, requesterKey{}, userID)
}

func requester(ctx context.Context) int64 {
	id, _ := ctx.Value(requesterKey{}).(int64)
	return id
}

// Status is the user-facing projection of a schedule.
type Status struct {
	Definition TaskDefinition `json:"definition"`
	JobID      string         `json:"job_id"`
	Registered bool           `json:"registered"`
	Next       time.Time      `json:"next,omitempty"`
	Prev       time.Time      `json:"prev,omitempty"`
}

const lockStripes = 64

// Facade composes the definition store and the trigger engine into
// idempotent schedule operations.
//
// Mutations of one tuple are serialized so the store row and the trigger
// change together. Reconcile excludes all mutations while it runs.
type Facade struct {
	store    DefinitionStore
	engine   TriggerEngine
	registry *Registry
	log      logx.Logger
	now      func() time.Time

	reconcileMu sync.RWMutex
	seed        maphash.Seed
	stripes     [lockStripes]sync.Mutex
}

func NewFacade(store DefinitionStore, engine TriggerEngine, registry *Registry, log logx.Logger) *Facade {
	return &Facade{store: store, engine: engine, registry: registry, log: log, now: time.Now, seed: maphash.MakeSeed()}
}

// lock holds the stripe guarding jobID until the returned func is called.
func (f *Facade) lock(jobID string) func() {
	f.reconcileMu.RLock()
	mu := &f.stripes[maphash.String(f.seed, jobID)%lockStripes]
	mu.Lock()
	return func() {
		mu.Unlock()
		f.reconcileMu.RUnlock()
	}
}

// Schedule validates req, upserts its definition and (re)registers the
// trigger under JobID(req.Tuple). Re-scheduling a tuple updates it in place.
func (f *Facade) Schedule(ctx context.Context, req ScheduleRequest) (TaskDefinition, error) {
	t := req.Tuple.Normalize()
	if err := t.Validate(); err != nil {
		return TaskDefinition{}, fmt.Errorf("push: invalid tuple: %w", err)
	}
	reg, ok := f.registry.Resolve(t.HandlerKey)
	if !ok {
		return TaskDefinition{}, &HandlerNotFoundError{Key: t.HandlerKey}
	}
	if !reg.Allows(t.TargetType) {
		return TaskDefinition{}, fmt.Errorf("%w: %s for %s", ErrTargetNotAllowed, t.TargetType, reg.Key)
	}
	param, err := MarshalParam(req.Parameter)
	if err != nil {
		return TaskDefinition{}, &ParamError{Key: reg.Key, Want: reg.ParamType, Got: describe(req.Parameter), Err: err}
	}
	if err := reg.CheckParam(param); err != nil {
		return TaskDefinition{}, err
	}
	sched, err := f.validateSchedule(req.Cron, req.RunAt)
	if err != nil {
		return TaskDefinition{}, err
	}

	jobID := JobID(t)
	defer f.lock(jobID)()

	prev, hadPrev, err := f.store.FindByTuple(ctx, t)
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("push: load %s: %w", t, err)
	}
	def, err := f.store.Upsert(ctx, TaskDefinition{
		Tuple:          t,
		Parameter:      param,
		CronExpression: sched.Cron,
		RunAt:          sched.At,
		Enabled:        !req.Disabled,
		Description:    strings.TrimSpace(req.Description),
	})
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("push: save %s: %w", t, err)
	}
	if err := f.register(ctx, def); err != nil {
		// The engine still holds the previous trigger (or none); put the row back to match it.
		if rerr := f.restore(ctx, t, prev, hadPrev); rerr != nil {
			f.log.Error("push rollback failed", logx.String("job", jobID), logx.Err(rerr))
			err = errors.Join(err, rerr)
		}
		return TaskDefinition{}, err
	}
	f.audit(ctx, "schedule", t, jobID, scheduleDetail(def))
	f.log.Info("push scheduled", logx.String("job", jobID), logx.String("tuple", t.String()), logx.String("schedule", scheduleDetail(def)))
	return def, nil
}

// Unschedule deletes the definition and deregisters its trigger. Both steps
// are idempotent; the result reports whether a definition existed.
func (f *Facade) Unschedule(ctx context.Context, t Tuple) (bool, error) {
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return false, fmt.Errorf("push: invalid tuple: %w", err)
	}
	jobID := JobID(t)
	defer f.lock(jobID)()

	prev, hadPrev, err := f.store.FindByTuple(ctx, t)
	if err != nil {
		return false, fmt.Errorf("push: load %s: %w", t, err)
	}
	existed, err := f.store.Delete(ctx, t)
	if err != nil {
		return false, fmt.Errorf("push: delete %s: %w", t, err)
	}
	if _, err := f.engine.DeregisterTrigger(ctx, jobID); err != nil {
		err = fmt.Errorf("push: deregister %s: %w", jobID, err)
		if rerr := f.restore(ctx, t, prev, hadPrev); rerr != nil {
			f.log.Error("push rollback failed", logx.String("job", jobID), logx.Err(rerr))
			err = errors.Join(err, rerr)
		}
		return false, err
	}
	if existed {
		f.audit(ctx, "unschedule", t, jobID, "")
		f.log.Info("push unscheduled", logx.String("job", jobID), logx.String("tuple", t.String()))
	}
	return existed, nil
}

// SetEnabled flips enablement without touching the trigger; the bridge
// checks the flag on every firing.
func (f *Facade) SetEnabled(ctx context.Context, t Tuple, enabled bool) (TaskDefinition, error) {
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return TaskDefinition{}, fmt.Errorf("push: invalid tuple: %w", err)
	}
	defer f.lock(JobID(t))()
	def, ok, err := f.store.SetEnabled(ctx, t, enabled)
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("push: set enabled %s: %w", t, err)
	}
	if !ok {
		return TaskDefinition{}, ErrNotFound
	}
	action := "disable"
	if enabled {
		action = "enable"
	}
	f.audit(ctx, action, t, JobID(t), "")
	return def, nil
}

func (f *Facade) Status(ctx context.Context, t Tuple) (Status, bool, error) {
	t = t.Normalize()
	def, ok, err := f.store.FindByTuple(ctx, t)
	if err != nil || !ok {
		return Status{}, false, err
	}
	return f.status(def), true, nil
}

// List returns the schedules of one conversation for one actor, ordered by handler key.
func (f *Facade) List(ctx context.Context, actorID int64, targetType TargetType, targetID int64) ([]Status, error) {
	defs, err := f.store.ListByActorAndTarget(ctx, actorID, targetType, targetID)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(defs))
	for _, d := range defs {
		out = append(out, f.status(d))
	}
	return out, nil
}

// ListAll returns every stored schedule.
func (f *Facade) ListAll(ctx context.Context) ([]Status, error) {
	defs, err := f.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(defs))
	for _, d := range defs {
		out = append(out, f.status(d))
	}
	return out, nil
}

// Reconcile makes the engine's triggers match the stored definitions: every
// definition gets its trigger (re)registered and triggers without a
// definition are removed. One-shot definitions whose time has passed are
// left alone; a pending trigger for them is still honored by the engine.
// It returns the number of registered triggers.
func (f *Facade) Reconcile(ctx context.Context) (int, error) {
	f.reconcileMu.Lock()
	defer f.reconcileMu.Unlock()
	defs, err := f.store.List(ctx)
	if err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(defs))
	now := f.now()
	registered := 0
	var errs []error
	for _, d := range defs {
		jobID := JobID(d.Tuple)
		want[jobID] = struct{}{}
		if d.OneShot() && !d.RunAt.After(now) {
			continue
		}
		if err := f.register(ctx, d); err != nil {
			errs = append(errs, err)
			continue
		}
		registered++
	}
	removed := 0
	for _, id := range f.engine.JobIDs() {
		if !IsJobID(id) {
			continue
		}
		if _, ok := want[id]; ok {
			continue
		}
		if _, err := f.engine.DeregisterTrigger(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	f.log.Info("push reconciled", logx.Int("definitions", len(defs)), logx.Int("registered", registered), logx.Int("orphans_removed", removed))
	return registered, errors.Join(errs...)
}

// restore puts the store row for t back to prev, or removes it when there was none.
func (f *Facade) restore(ctx context.Context, t Tuple, prev TaskDefinition, hadPrev bool) error {
	if !hadPrev {
		if _, err := f.store.Delete(ctx, t); err != nil {
			return fmt.Errorf("push: rollback delete %s: %w", t, err)
		}
		return nil
	}
	if _, err := f.store.Upsert(ctx, prev); err != nil {
		return fmt.Errorf("push: rollback restore %s: %w", t, err)
	}
	return nil
}

func (f *Facade) register(ctx context.Context, def TaskDefinition) error {
	payload, err := sonic.Marshal(Trigger{Tuple: def.Tuple, Parameter: def.Parameter})
	if err != nil {
		return fmt.Errorf("push: encode trigger: %w", err)
	}
	jobID := JobID(def.Tuple)
	sched := Schedule{Cron: def.CronExpression, At: def.RunAt}
	if err := f.engine.RegisterTrigger(ctx, jobID, sched, payload); err != nil {
		return fmt.Errorf("push: register trigger %s: %w", jobID, err)
	}
	return nil
}

func (f *Facade) validateSchedule(expr string, at time.Time) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr != "" && !at.IsZero():
		return Schedule{}, fmt.Errorf("%w: both cron and run-at given", ErrInvalidSchedule)
	case expr == "" && at.IsZero():
		return Schedule{}, fmt.Errorf("%w: cron or run-at is required", ErrInvalidSchedule)
	case expr != "":
		if _, err := CronParser.Parse(expr); err != nil {
			return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return Schedule{Cron: expr}, nil
	default:
		if !at.After(f.now()) {
			return Schedule{}, fmt.Errorf("%w: run-at %s is in the past", ErrInvalidSchedule, at.Format(time.RFC3339))
		}
		return Schedule{At: at}, nil
	}
}

func (f *Facade) status(d TaskDefinition) Status {
	st := Status{Definition: d, JobID: JobID(d.Tuple)}
	st.Next, st.Prev, st.Registered = f.engine.Next(st.JobID)
	return st
}

func (f *Facade) audit(ctx context.Context, action string, t Tuple, jobID string, detail string) {
	a, ok := f.store.(Auditor)
	if !ok {
		return
	}
	err := a.AppendAudit(ctx, AuditEntry{At: f.now(), Action: action, Tuple: t, JobID: jobID, RequestedBy: requester(ctx), Detail: detail})
	if err != nil {
		f.log.Warn("push audit failed", logx.String("action", action), logx.Err(err))
	}
}

func scheduleDetail(d TaskDefinition) string {
	if d.OneShot() {
		return "at " + d.RunAt.Format(time.RFC3339)
	}
	return d.CronExpression
}

// DecodeTrigger parses a payload produced by the facade.
func DecodeTrigger(payload []byte) (Trigger, error) {
	var tr Trigger
	if err := sonic.Unmarshal(payload, &tr); err != nil {
		return Trigger{}, fmt.Errorf("push: decode trigger: %w", err)
	}
	if len(tr.Parameter) > 0 && !json.Valid(tr.Parameter) {
		return Trigger{}, errors.New("push: decode trigger: parameter is not valid JSON")
	}
	return tr, nil
}
