package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"pushbot/internal/eventbus"
	logx "pushbot/pkg/logx"
)

type stubActor struct{ id int64 }

func (a stubActor) ID() int64                                    { return a.id }
func (a stubActor) SendText(context.Context, int64, string) error { return nil }

func TestRegistryAddAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry(logx.Nop(), nil)
	if err := r.Add(stubActor{id: 7}, "main"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(stubActor{id: 7}, "dup"); err == nil {
		t.Fatalf("duplicate Add succeeded")
	}
	if err := r.Add(stubActor{}, "zero"); err == nil {
		t.Fatalf("zero id Add succeeded")
	}
	if _, ok := r.Get(7); !ok {
		t.Fatalf("Get(7) missing")
	}
	if _, ok := r.Get(8); ok {
		t.Fatalf("Get(8) found")
	}
	if r.IsOnline(7) {
		t.Fatalf("new actor reported online")
	}
}

func TestRegistryTransitionsArePublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	r := NewRegistry(logx.Nop(), bus)
	if err := r.Add(stubActor{id: 1}, "a"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	r.SetOnline(1, true, nil)
	r.SetOnline(1, true, nil)
	r.SetOnline(1, false, errors.New("getMe: timeout"))
	r.SetOnline(99, true, nil)

	want := []string{"actor.online", "actor.offline"}
	for _, typ := range want {
		select {
		case ev := <-ch:
			if ev.Type != typ {
				t.Fatalf("event = %s, want %s", ev.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s", typ)
		}
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Online || snap[0].LastError != "getMe: timeout" {
		t.Fatalf("snapshot = %+v", snap)
	}
}
