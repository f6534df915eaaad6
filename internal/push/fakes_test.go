package push

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fakeStore struct {
	mu     sync.Mutex
	seq    int64
	rows   map[Tuple]TaskDefinition
	audits []AuditEntry
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[Tuple]TaskDefinition{}} }

func (s *fakeStore) Upsert(_ context.Context, def TaskDefinition) (TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if cur, ok := s.rows[def.Tuple]; ok {
		def.ID, def.CreatedAt = cur.ID, cur.CreatedAt
	} else {
		s.seq++
		def.ID, def.CreatedAt = s.seq, now
	}
	def.UpdatedAt = now
	s.rows[def.Tuple] = def
	return def, nil
}

func (s *fakeStore) FindByTuple(_ context.Context, t Tuple) (TaskDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[t]
	return d, ok, nil
}

func (s *fakeStore) Delete(_ context.Context, t Tuple) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[t]
	delete(s.rows, t)
	return ok, nil
}

func (s *fakeStore) ListByActorAndTarget(_ context.Context, actorID int64, tt TargetType, targetID int64) ([]TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskDefinition
	for t, d := range s.rows {
		if t.ActorID == actorID && t.TargetType == tt && t.TargetID == targetID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HandlerKey < out[j].HandlerKey })
	return out, nil
}

func (s *fakeStore) List(_ context.Context) ([]TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskDefinition, 0, len(s.rows))
	for _, d := range s.rows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) SetEnabled(_ context.Context, t Tuple, enabled bool) (TaskDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[t]
	if !ok {
		return TaskDefinition{}, false, nil
	}
	d.Enabled = enabled
	d.UpdatedAt = time.Now()
	s.rows[t] = d
	return d, true, nil
}

func (s *fakeStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	s.audits = append(s.audits, e)
	s.mu.Unlock()
	return nil
}

type fakeTrigger struct {
	sched   Schedule
	payload []byte
}

type fakeEngine struct {
	mu        sync.Mutex
	triggers  map[string]fakeTrigger
	regs      int
	failReg   error
	failDereg error
}

func newFakeEngine() *fakeEngine { return &fakeEngine{triggers: map[string]fakeTrigger{}} }

func (e *fakeEngine) RegisterTrigger(_ context.Context, jobID string, s Schedule, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failReg != nil {
		return e.failReg
	}
	e.triggers[jobID] = fakeTrigger{sched: s, payload: payload}
	e.regs++
	return nil
}

func (e *fakeEngine) DeregisterTrigger(_ context.Context, jobID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failDereg != nil {
		return false, e.failDereg
	}
	_, ok := e.triggers[jobID]
	delete(e.triggers, jobID)
	return ok, nil
}

func (e *fakeEngine) setFailures(reg, dereg error) {
	e.mu.Lock()
	e.failReg, e.failDereg = reg, dereg
	e.mu.Unlock()
}

func (e *fakeEngine) schedule(jobID string) (Schedule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.triggers[jobID]
	return tr.sched, ok
}

func (e *fakeEngine) Next(jobID string) (time.Time, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.triggers[jobID]
	return time.Time{}, time.Time{}, ok
}

func (e *fakeEngine) JobIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.triggers))
	for id := range e.triggers {
		out = append(out, id)
	}
	return out
}

func (e *fakeEngine) payload(jobID string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.triggers[jobID]
	return tr.payload, ok
}

type sent struct {
	chatID int64
	text   string
}

type fakeActor struct {
	id   int64
	mu   sync.Mutex
	sent []sent
}

func (a *fakeActor) ID() int64 { return a.id }

func (a *fakeActor) SendText(_ context.Context, chatID int64, text string) error {
	a.mu.Lock()
	a.sent = append(a.sent, sent{chatID: chatID, text: text})
	a.mu.Unlock()
	return nil
}

type fakeActors struct {
	mu     sync.Mutex
	online map[int64]bool
	actors map[int64]*fakeActor
}

func newFakeActors(ids ...int64) *fakeActors {
	fa := &fakeActors{online: map[int64]bool{}, actors: map[int64]*fakeActor{}}
	for _, id := range ids {
		fa.actors[id] = &fakeActor{id: id}
		fa.online[id] = true
	}
	return fa
}

func (f *fakeActors) setOnline(id int64, on bool) {
	f.mu.Lock()
	f.online[id] = on
	f.mu.Unlock()
}

func (f *fakeActors) IsOnline(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

func (f *fakeActors) Get(id int64) (Actor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return nil, false
	}
	return a, true
}

type countingObserver struct {
	mu  sync.Mutex
	got map[Outcome]int
}

func (o *countingObserver) ObserveFire(_ string, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	if o.got == nil {
		o.got = map[Outcome]int{}
	}
	o.got[outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) count(outcome Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.got[outcome]
}
