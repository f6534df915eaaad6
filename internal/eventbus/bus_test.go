package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	fast, unsubFast := b.Subscribe(4)
	slow, unsubSlow := b.Subscribe(1)
	defer unsubFast()
	defer unsubSlow()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "task.started", Data: i})
	}
	if got := len(fast); got != 3 {
		t.Fatalf("fast subscriber got %d events, want 3", got)
	}
	if got := len(slow); got != 1 {
		t.Fatalf("slow subscriber got %d events, want 1", got)
	}
	if b.Delivered() != 4 || b.Dropped() != 2 {
		t.Fatalf("delivered=%d dropped=%d, want 4/2", b.Delivered(), b.Dropped())
	}
	if e := <-fast; e.Time.IsZero() || e.Data != 0 {
		t.Fatalf("first event = %+v", e)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received event after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	b.Publish(Event{Type: "push.fired"})
}

func TestFamily(t *testing.T) {
	t.Parallel()
	tests := map[string]string{"task.failed": "task", "push.skipped": "push", "plain": "plain", "": ""}
	for in, want := range tests {
		if got := Family(in); got != want {
			t.Fatalf("Family(%q) = %q, want %q", in, got, want)
		}
	}
}
