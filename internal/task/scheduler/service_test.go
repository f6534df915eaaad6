package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"pushbot/internal/storage"
	"pushbot/internal/task/engine"
	logx "pushbot/pkg/logx"
)

type firing struct {
	jobID   string
	payload string
}

type recorder struct {
	mu  sync.Mutex
	got []firing
	ch  chan firing
}

func newRecorder() *recorder { return &recorder{ch: make(chan firing, 16)} }

func (r *recorder) fire(_ context.Context, jobID string, payload []byte) error {
	f := firing{jobID: jobID, payload: string(payload)}
	r.mu.Lock()
	r.got = append(r.got, f)
	r.mu.Unlock()
	r.ch <- f
	return nil
}

func (r *recorder) wait(t *testing.T) firing {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for firing")
		return firing{}
	}
}

func newTestService(t *testing.T, store storage.TriggerStore, rec *recorder) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2, QueueSize: 8}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Timezone: "UTC"}, eng, store, rec.fire, logx.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s
}

func TestRegisterTriggerValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, newRecorder().fire, logx.Nop(), nil)
	ctx := context.Background()
	tests := []struct {
		name  string
		jobID string
		sch   Schedule
	}{
		{name: "empty id", jobID: " ", sch: Schedule{Cron: "@daily"}},
		{name: "neither", jobID: "push:a", sch: Schedule{}},
		{name: "both", jobID: "push:a", sch: Schedule{Cron: "@daily", At: time.Now()}},
		{name: "bad cron", jobID: "push:a", sch: Schedule{Cron: "nope"}},
	}
	for _, tt := range tests {
		if err := s.RegisterTrigger(ctx, tt.jobID, tt.sch, nil); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
	if ids := s.JobIDs(); len(ids) != 0 {
		t.Fatalf("JobIDs = %v after rejected registrations", ids)
	}
}

func TestRegisterReplacesAndDeregisters(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(storage.Config{})
	s := New(Config{Timezone: "UTC"}, nil, store, newRecorder().fire, logx.Nop(), nil)
	ctx := context.Background()

	if err := s.RegisterTrigger(ctx, "push:a", Schedule{Cron: "0 0 9 * * *"}, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterTrigger(ctx, "push:a", Schedule{Cron: "0 0 18 * * *"}, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if ids := s.JobIDs(); len(ids) != 1 || ids[0] != "push:a" {
		t.Fatalf("JobIDs = %v", ids)
	}
	next, _, ok := s.Next("push:a")
	if !ok || next.Hour() != 18 {
		t.Fatalf("Next = %v, %v; want 18:00", next, ok)
	}
	recs, _ := store.LoadTriggers(ctx)
	if len(recs) != 1 || string(recs[0].Payload) != "v2" {
		t.Fatalf("persisted = %+v", recs)
	}

	if ok, err := s.DeregisterTrigger(ctx, "push:a"); err != nil || !ok {
		t.Fatalf("DeregisterTrigger = %v, %v", ok, err)
	}
	if ok, err := s.DeregisterTrigger(ctx, "push:a"); err != nil || ok {
		t.Fatalf("second DeregisterTrigger = %v, %v", ok, err)
	}
	if _, _, ok := s.Next("push:a"); ok {
		t.Fatal("Next reports a removed trigger")
	}
}

func TestOneShotFiresOnceAndIsForgotten(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(storage.Config{})
	rec := newRecorder()
	s := newTestService(t, store, rec)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.RegisterTrigger(ctx, "push:once", Schedule{At: time.Now().Add(50 * time.Millisecond)}, []byte("p")); err != nil {
		t.Fatal(err)
	}
	f := rec.wait(t)
	if f.jobID != "push:once" || f.payload != "p" {
		t.Fatalf("firing = %+v", f)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs, _ := store.LoadTriggers(ctx)
		if len(recs) == 0 && len(s.JobIDs()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("one-shot trigger still registered after firing")
}

func TestStartLoadsPersistedTriggers(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory(storage.Config{})
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	if err := store.SaveTrigger(ctx, storage.TriggerRecord{JobID: "push:missed", At: past, Payload: []byte("late")}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTrigger(ctx, storage.TriggerRecord{JobID: "push:cron", Cron: "@daily"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTrigger(ctx, storage.TriggerRecord{JobID: "push:broken", Cron: "not cron"}); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	s := newTestService(t, store, rec)
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if f := rec.wait(t); f.jobID != "push:missed" || f.payload != "late" {
		t.Fatalf("catch-up firing = %+v", f)
	}
	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	found := false
	for _, tr := range snap.Triggers {
		if tr.JobID == "push:broken" {
			t.Fatal("invalid persisted cron was armed")
		}
		if tr.JobID == "push:cron" {
			found = true
			if tr.Next.IsZero() || tr.OneShot {
				t.Fatalf("cron trigger info = %+v", tr)
			}
		}
	}
	if !found {
		t.Fatalf("persisted cron trigger missing: %+v", snap.Triggers)
	}
}

func TestCronTriggerFires(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil, rec)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterTrigger(ctx, "push:tick", Schedule{Cron: "* * * * * *"}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if f := rec.wait(t); f.jobID != "push:tick" {
		t.Fatalf("firing = %+v", f)
	}
}

func TestSpreadDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(10*time.Second, now, "push:x")
	if jitter < 0 || jitter >= 10*time.Second {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(10*time.Second + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	// Later runs follow the base interval, truncated to whole seconds.
	second := sched.Next(first)
	if gap := second.Sub(first); gap <= 9*time.Second || gap > 10*time.Second {
		t.Fatalf("second run %v is %v after %v", second, gap, first)
	}
}
