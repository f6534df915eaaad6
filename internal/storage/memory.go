package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"pushbot/internal/push"
)

// memoryStore keeps everything in maps guarded by one RWMutex.
type memoryStore struct {
	mu sync.RWMutex

	seq      int64
	defs     map[push.Tuple]push.TaskDefinition
	triggers map[string]TriggerRecord
	audit    []push.AuditEntry

	auditKeep int
	closed    bool
}

// NewMemory returns an empty in-process store.
func NewMemory(cfg Config) Store {
	keep := cfg.AuditKeep
	if keep <= 0 {
		keep = defaultAuditKeep
	}
	return &memoryStore{
		defs:      make(map[push.Tuple]push.TaskDefinition),
		triggers:  make(map[string]TriggerRecord),
		auditKeep: keep,
	}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Upsert(_ context.Context, def push.TaskDefinition) (push.TaskDefinition, error) {
	def.Tuple = def.Tuple.Normalize()
	def.Parameter = slices.Clone(def.Parameter)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return push.TaskDefinition{}, ErrClosed
	}
	now := time.Now()
	if cur, ok := m.defs[def.Tuple]; ok {
		def.ID = cur.ID
		def.CreatedAt = cur.CreatedAt
	} else {
		m.seq++
		def.ID = m.seq
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	m.defs[def.Tuple] = def
	return def, nil
}

func (m *memoryStore) FindByTuple(_ context.Context, t push.Tuple) (push.TaskDefinition, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return push.TaskDefinition{}, false, ErrClosed
	}
	d, ok := m.defs[t.Normalize()]
	return d, ok, nil
}

func (m *memoryStore) Delete(_ context.Context, t push.Tuple) (bool, error) {
	t = t.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.defs[t]
	delete(m.defs, t)
	return ok, nil
}

func (m *memoryStore) ListByActorAndTarget(_ context.Context, actorID int64, targetType push.TargetType, targetID int64) ([]push.TaskDefinition, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	var out []push.TaskDefinition
	for t, d := range m.defs {
		if t.ActorID == actorID && t.TargetType == targetType && t.TargetID == targetID {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].HandlerKey < out[j].HandlerKey })
	return out, nil
}

func (m *memoryStore) List(_ context.Context) ([]push.TaskDefinition, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]push.TaskDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) SetEnabled(_ context.Context, t push.Tuple, enabled bool) (push.TaskDefinition, bool, error) {
	t = t.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return push.TaskDefinition{}, false, ErrClosed
	}
	d, ok := m.defs[t]
	if !ok {
		return push.TaskDefinition{}, false, nil
	}
	d.Enabled = enabled
	d.UpdatedAt = time.Now()
	m.defs[t] = d
	return d, true, nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e push.AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	if len(m.audit) > m.auditKeep {
		m.audit = m.audit[len(m.audit)-m.auditKeep:]
	}
	return nil
}

func (m *memoryStore) ListAudit(_ context.Context, limit int) ([]push.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	n := min(limit, len(m.audit))
	out := make([]push.AuditEntry, 0, n)
	for i := len(m.audit) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *memoryStore) SaveTrigger(_ context.Context, r TriggerRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	r.Payload = slices.Clone(r.Payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.triggers[r.JobID] = r
	return nil
}

func (m *memoryStore) DeleteTrigger(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.triggers[jobID]
	delete(m.triggers, jobID)
	return ok, nil
}

func (m *memoryStore) LoadTriggers(_ context.Context) ([]TriggerRecord, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]TriggerRecord, 0, len(m.triggers))
	for _, r := range m.triggers {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}
