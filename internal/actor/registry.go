// Package actor tracks the connected bot accounts that scheduled pushes act
// as, together with their online state.
package actor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"pushbot/internal/eventbus"
	"pushbot/internal/push"
	logx "pushbot/pkg/logx"
)

// Status is the admin view of one actor.
type Status struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	Since     time.Time `json:"since,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// StatusEvent is published on "actor.online" and "actor.offline".
type StatusEvent struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

type entry struct {
	actor   push.Actor
	name    string
	online  bool
	since   time.Time
	lastErr string
}

// Registry implements push.ActorRegistry. Actors start offline until their
// first successful probe.
type Registry struct {
	mu     sync.RWMutex
	actors map[int64]*entry

	log logx.Logger
	bus eventbus.Bus
	now func() time.Time
}

func NewRegistry(log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{actors: map[int64]*entry{}, log: log, bus: bus, now: time.Now}
}

// Add registers a. Two actors may not share an id.
func (r *Registry) Add(a push.Actor, name string) error {
	if a == nil || a.ID() == 0 {
		return fmt.Errorf("actor: invalid actor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.actors[a.ID()]; dup {
		return fmt.Errorf("actor: duplicate actor id %d", a.ID())
	}
	r.actors[a.ID()] = &entry{actor: a, name: name}
	return nil
}

// SetOnline records a probe result. Transitions are logged and published.
func (r *Registry) SetOnline(id int64, online bool, err error) {
	r.mu.Lock()
	e, ok := r.actors[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	changed := e.online != online || e.since.IsZero()
	if changed {
		e.online = online
		e.since = r.now()
	}
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	name := e.name
	r.mu.Unlock()

	if !changed {
		return
	}
	ev := StatusEvent{ID: id, Name: name}
	if online {
		r.log.Info("actor online", logx.Int64("actor", id), logx.String("name", name))
		r.publish("actor.online", ev)
		return
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.log.Warn("actor offline", logx.Int64("actor", id), logx.String("name", name), logx.Err(err))
	r.publish("actor.offline", ev)
}

func (r *Registry) IsOnline(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actors[id]
	return ok && e.online
}

func (r *Registry) Get(id int64) (push.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actors[id]
	if !ok {
		return nil, false
	}
	return e.actor, true
}

// Snapshot lists every actor ordered by id.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.actors))
	for id, e := range r.actors {
		out = append(out, Status{ID: id, Name: e.name, Online: e.online, Since: e.since, LastError: e.lastErr})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) publish(typ string, ev StatusEvent) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
