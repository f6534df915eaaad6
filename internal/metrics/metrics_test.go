package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pushbot/internal/eventbus"
	"pushbot/internal/push"
	"pushbot/internal/task/engine"
)

func TestObserveFire(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveFire("REMINDER", push.OutcomeFired, 20*time.Millisecond)
	m.ObserveFire("REMINDER", push.OutcomeFired, 30*time.Millisecond)
	m.ObserveFire("REMINDER", push.OutcomeOffline, time.Millisecond)

	if got := testutil.ToFloat64(m.fires.WithLabelValues("REMINDER", "fired")); got != 2 {
		t.Fatalf("fired = %v", got)
	}
	if got := testutil.ToFloat64(m.fires.WithLabelValues("REMINDER", "offline")); got != 1 {
		t.Fatalf("offline = %v", got)
	}
}

func TestConsumeCountsEvents(t *testing.T) {
	t.Parallel()
	m := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Consume(ctx, bus)
		close(done)
	}()

	// The subscription is registered asynchronously; publish until seen.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.events.WithLabelValues("task.finished")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no events consumed")
		}
		bus.Publish(eventbus.Event{Type: "task.finished", Data: engine.TaskEvent{Name: "j", Duration: 50 * time.Millisecond, Attempts: 2}})
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := testutil.CollectAndCount(m.taskDur); n != 1 {
		t.Fatalf("task duration series = %d", n)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	t.Parallel()
	m := New()
	bus := eventbus.New()
	m.BusStats(bus)
	m.Gauge("actors", "online", "Online actors.", func() float64 { return 3 })
	m.ObserveFire("DAILY_REPORT", push.OutcomeFired, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`pushbot_push_fires_total{handler="DAILY_REPORT",outcome="fired"} 1`,
		"pushbot_actors_online 3",
		"pushbot_bus_dropped_total 0",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
