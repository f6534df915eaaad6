// Package eventbus is an in-process, non-blocking fanout of lifecycle events
// (task.*, trigger.fired, push.*) used by metrics and diagnostics.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event carries small, JSON-friendly data. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Stats is implemented by buses that count deliveries.
type Stats interface {
	Delivered() uint64
	Dropped() uint64
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

// MemBus owns no goroutines.
type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		b.deliver(ch, e)
	}
}

func (b *MemBus) deliver(ch chan Event, e Event) {
	// Send on a channel closed by a concurrent unsubscribe.
	defer func() { _ = recover() }()
	select {
	case ch <- e:
		b.delivered.Add(1)
	default:
		b.dropped.Add(1)
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *MemBus) Delivered() uint64 { return b.delivered.Load() }
func (b *MemBus) Dropped() uint64   { return b.dropped.Load() }

// Family returns the part of an event type before the first dot.
func Family(typ string) string {
	fam, _, _ := strings.Cut(typ, ".")
	return fam
}
