package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pushbot/internal/eventbus"
	"pushbot/internal/storage"
	"pushbot/internal/task/engine"
	logx "pushbot/pkg/logx"
)

var (
	ErrJobIDRequired   = errors.New("scheduler: job id required")
	ErrInvalidSchedule = errors.New("scheduler: exactly one of cron or at is required")
)

// RegisterTrigger persists and arms a trigger for jobID. An existing trigger
// with the same id is replaced.
func (s *Service) RegisterTrigger(ctx context.Context, jobID string, sch Schedule, payload []byte) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ErrJobIDRequired
	}
	spec := strings.TrimSpace(sch.Cron)
	if (spec == "") == sch.At.IsZero() {
		return ErrInvalidSchedule
	}
	if spec != "" {
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("scheduler: invalid cron %q: %w", spec, err)
		}
	}

	tr := &trigger{
		jobID:   jobID,
		cron:    spec,
		at:      sch.At,
		payload: slices.Clone(payload),
		state:   &engine.RunState{},
	}
	if s.store != nil {
		rec := storage.TriggerRecord{JobID: jobID, Cron: spec, At: sch.At, Payload: tr.payload}
		if err := s.store.SaveTrigger(ctx, rec); err != nil {
			return fmt.Errorf("scheduler: persist trigger %s: %w", jobID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.triggers[jobID]; ok {
		s.disarmLocked(old, s.c)
		// Keep the overlap gate so a replacement cannot run beside an in-flight firing.
		tr.state = old.state
	}
	s.triggers[jobID] = tr
	if s.c == nil {
		return nil
	}
	if err := s.armLocked(tr); err != nil {
		return err
	}

	args := []logx.Field{logx.String("job", jobID), logx.String("spec", tr.spec())}
	if spec != "" {
		if next := s.previewNextRunsLocked(spec, 3); next != "" {
			args = append(args, logx.String("next", next))
		}
	}
	s.log.Debug("trigger registered", args...)
	return nil
}

// DeregisterTrigger disarms and forgets jobID. It reports whether a trigger
// existed in memory or in the store.
func (s *Service) DeregisterTrigger(ctx context.Context, jobID string) (bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return false, ErrJobIDRequired
	}

	s.mu.Lock()
	tr, existed := s.triggers[jobID]
	if existed {
		s.disarmLocked(tr, s.c)
		delete(s.triggers, jobID)
	}
	s.mu.Unlock()

	if s.store != nil {
		ok, err := s.store.DeleteTrigger(ctx, jobID)
		if err != nil {
			return existed, fmt.Errorf("scheduler: delete trigger %s: %w", jobID, err)
		}
		existed = existed || ok
	}
	if existed {
		s.log.Debug("trigger removed", logx.String("job", jobID))
	}
	return existed, nil
}

// Next returns the upcoming and previous fire times of jobID.
func (s *Service) Next(jobID string) (next, prev time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.triggers[jobID]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	next, prev = s.nextLocked(tr)
	return next, prev, true
}

// JobIDs lists registered job ids in lexical order.
func (s *Service) JobIDs() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.triggers))
	for id := range s.triggers {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (tr *trigger) spec() string {
	if tr.cron != "" {
		return tr.cron
	}
	return "@at " + tr.at.Format(time.RFC3339)
}

func (s *Service) nextLocked(tr *trigger) (next, prev time.Time) {
	if tr.cron == "" {
		return tr.at, time.Time{}
	}
	if s.c != nil && tr.entryID != 0 {
		e := s.c.Entry(tr.entryID)
		return e.Next, e.Prev
	}
	sched, err := s.parser.Parse(tr.cron)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	return sched.Next(time.Now().In(loc)), time.Time{}
}

// armLocked installs tr into the running cron or a one-shot timer.
// Call with s.mu held and s.c non-nil.
func (s *Service) armLocked(tr *trigger) error {
	s.verSeq++
	tr.ver = s.verSeq

	if tr.cron == "" {
		ver := tr.ver
		delay := max(time.Until(tr.at), 0)
		tr.timer = time.AfterFunc(delay, func() { s.fireOnce(tr, ver) })
		return nil
	}

	job := cron.FuncJob(func() { s.fire(tr, false) })

	// Interval triggers get a startup spread so a restart does not fire them all at once.
	if every, ok := parseEvery(tr.cron); ok {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, jitter := makeIntervalScheduleWithSpread(every, time.Now().In(loc), tr.jobID)
		tr.startupSpread = jitter
		tr.entryID = s.c.Schedule(sched, job)
		return nil
	}

	tr.startupSpread = 0
	eid, err := s.c.AddJob(tr.cron, job)
	if err != nil {
		return fmt.Errorf("scheduler: arm %s: %w", tr.jobID, err)
	}
	tr.entryID = eid
	return nil
}

// disarmLocked removes tr from c (when given) and stops its timer.
func (s *Service) disarmLocked(tr *trigger, c *cron.Cron) {
	if c != nil && tr.entryID != 0 {
		c.Remove(tr.entryID)
	}
	tr.entryID = 0
	if tr.timer != nil {
		tr.timer.Stop()
		tr.timer = nil
	}
	tr.ver = 0
}

func (s *Service) fireOnce(tr *trigger, ver uint64) {
	s.mu.Lock()
	if cur, ok := s.triggers[tr.jobID]; !ok || cur != tr || tr.ver != ver {
		s.mu.Unlock()
		return
	}
	delete(s.triggers, tr.jobID)
	tr.timer = nil
	s.mu.Unlock()

	if !s.fire(tr, true) {
		// The persisted record stays and fires again after a restart.
		return
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.store.DeleteTrigger(ctx, tr.jobID); err != nil {
			s.log.Warn("one-shot trigger cleanup failed", logx.String("job", tr.jobID), logx.Err(err))
		}
	}
}

// fire hands one firing to the engine. It reports whether the task was queued.
func (s *Service) fire(tr *trigger, oneShot bool) bool {
	if s.engine == nil {
		return false
	}
	jobID, payload := tr.jobID, tr.payload
	err := s.engine.Enqueue(engine.Task{
		Name:    jobID,
		Timeout: time.Duration(s.taskTimeout.Load()),
		Run: func(ctx context.Context) error {
			return s.onFire(ctx, jobID, payload)
		},
		Opt:   engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State: tr.state,
	})
	if err != nil {
		s.reportEnqueueError(jobID, err)
		return false
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: "trigger.fired",
			Time: time.Now(),
			Data: TriggerEvent{JobID: jobID, OneShot: oneShot, At: time.Now()},
		})
	}
	return true
}

func parseEvery(spec string) (time.Duration, bool) {
	if !strings.HasPrefix(spec, "@every") {
		return 0, false
	}
	every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
	if err != nil || every <= 0 {
		return 0, false
	}
	return every, true
}

// previewNextRunsLocked lists upcoming run times for debug logs.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
