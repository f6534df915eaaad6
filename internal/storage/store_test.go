package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pushbot/internal/push"
	logx "pushbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "push.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

var tuple = push.Tuple{ActorID: 1, TargetType: push.TargetGroup, TargetID: 123, HandlerKey: "DAILY_REPORT"}

func TestUpsertKeepsIdentity(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := st.Upsert(ctx, push.TaskDefinition{Tuple: tuple, CronExpression: "0 0 9 * * *", Enabled: true})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if first.ID == 0 || first.CreatedAt.IsZero() {
				t.Fatalf("Upsert did not assign identity: %+v", first)
			}
			time.Sleep(5 * time.Millisecond)

			second, err := st.Upsert(ctx, push.TaskDefinition{
				Tuple:          tuple,
				CronExpression: "0 30 18 * * *",
				Parameter:      json.RawMessage(`{"title":"x"}`),
				Enabled:        false,
				Description:    "evening",
			})
			if err != nil {
				t.Fatalf("second Upsert: %v", err)
			}
			if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
				t.Fatalf("identity changed: first=%+v second=%+v", first, second)
			}
			if !second.UpdatedAt.After(first.UpdatedAt) {
				t.Fatalf("UpdatedAt not bumped: %v -> %v", first.UpdatedAt, second.UpdatedAt)
			}

			got, ok, err := st.FindByTuple(ctx, tuple)
			if err != nil || !ok {
				t.Fatalf("FindByTuple = %v, %v", ok, err)
			}
			if got.CronExpression != "0 30 18 * * *" || got.Enabled || got.Description != "evening" || string(got.Parameter) != `{"title":"x"}` {
				t.Fatalf("FindByTuple = %+v", got)
			}
			all, _ := st.List(ctx)
			if len(all) != 1 {
				t.Fatalf("List len = %d, want 1", len(all))
			}
		})
	}
}

func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if ok, err := st.Delete(ctx, tuple); err != nil || ok {
				t.Fatalf("Delete(absent) = %v, %v", ok, err)
			}
			if _, err := st.Upsert(ctx, push.TaskDefinition{Tuple: tuple, CronExpression: "@daily", Enabled: true}); err != nil {
				t.Fatal(err)
			}
			if ok, err := st.Delete(ctx, tuple); err != nil || !ok {
				t.Fatalf("Delete(present) = %v, %v", ok, err)
			}
			if _, ok, _ := st.FindByTuple(ctx, tuple); ok {
				t.Fatal("definition survived Delete")
			}
		})
	}
}

func TestListByActorAndTargetAndOneShot(t *testing.T) {
	t.Parallel()
	runAt := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"REMINDER", "DAILY_REPORT", "SPEEDTEST"} {
				tu := tuple
				tu.HandlerKey = key
				if _, err := st.Upsert(ctx, push.TaskDefinition{Tuple: tu, RunAt: runAt, Enabled: true}); err != nil {
					t.Fatal(err)
				}
			}
			other := tuple
			other.TargetID = 999
			if _, err := st.Upsert(ctx, push.TaskDefinition{Tuple: other, CronExpression: "@daily", Enabled: true}); err != nil {
				t.Fatal(err)
			}

			list, err := st.ListByActorAndTarget(ctx, 1, push.TargetGroup, 123)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 3 || list[0].HandlerKey != "DAILY_REPORT" || list[2].HandlerKey != "SPEEDTEST" {
				t.Fatalf("list = %+v", list)
			}
			if !list[0].OneShot() || !list[0].RunAt.Equal(runAt) {
				t.Fatalf("run-at not kept: %v want %v", list[0].RunAt, runAt)
			}
			if list[0].Parameter != nil {
				t.Fatalf("absent parameter read back as %q", list[0].Parameter)
			}
		})
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := st.SetEnabled(ctx, tuple, false); err != nil || ok {
				t.Fatalf("SetEnabled(absent) = %v, %v", ok, err)
			}
			if _, err := st.Upsert(ctx, push.TaskDefinition{Tuple: tuple, CronExpression: "@daily", Enabled: true}); err != nil {
				t.Fatal(err)
			}
			d, ok, err := st.SetEnabled(ctx, tuple, false)
			if err != nil || !ok || d.Enabled {
				t.Fatalf("SetEnabled = %+v, %v, %v", d, ok, err)
			}
		})
	}
}

func TestConcurrentUpsertsSameTuple(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					def := push.TaskDefinition{Tuple: tuple, CronExpression: fmt.Sprintf("0 %d * * *", i), Enabled: true}
					if _, err := st.Upsert(ctx, def); err != nil {
						t.Errorf("Upsert: %v", err)
					}
				}(i)
			}
			wg.Wait()
			all, err := st.List(ctx)
			if err != nil || len(all) != 1 {
				t.Fatalf("List = %d rows, %v", len(all), err)
			}
		})
	}
}

func TestTriggersAndAudit(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Now().Add(time.Minute).Truncate(time.Millisecond)
			if err := st.SaveTrigger(ctx, TriggerRecord{JobID: "push:a", Cron: "@daily", Payload: []byte(`{"x":1}`)}); err != nil {
				t.Fatal(err)
			}
			if err := st.SaveTrigger(ctx, TriggerRecord{JobID: "push:b", At: at}); err != nil {
				t.Fatal(err)
			}
			if err := st.SaveTrigger(ctx, TriggerRecord{JobID: "push:a", Cron: "@hourly", Payload: []byte(`{"x":2}`)}); err != nil {
				t.Fatal(err)
			}
			recs, err := st.LoadTriggers(ctx)
			if err != nil || len(recs) != 2 {
				t.Fatalf("LoadTriggers = %+v, %v", recs, err)
			}
			if recs[0].Cron != "@hourly" || string(recs[0].Payload) != `{"x":2}` || !recs[1].At.Equal(at) {
				t.Fatalf("records = %+v", recs)
			}
			if ok, _ := st.DeleteTrigger(ctx, "push:b"); !ok {
				t.Fatal("DeleteTrigger(present) = false")
			}
			if ok, _ := st.DeleteTrigger(ctx, "push:b"); ok {
				t.Fatal("DeleteTrigger(absent) = true")
			}

			for _, action := range []string{"schedule", "disable", "unschedule"} {
				if err := st.AppendAudit(ctx, push.AuditEntry{Action: action, Tuple: tuple, JobID: push.JobID(tuple), RequestedBy: 7}); err != nil {
					t.Fatal(err)
				}
			}
			entries, err := st.ListAudit(ctx, 2)
			if err != nil || len(entries) != 2 {
				t.Fatalf("ListAudit = %+v, %v", entries, err)
			}
			if entries[0].Action != "unschedule" || entries[0].Tuple != tuple || entries[0].RequestedBy != 7 {
				t.Fatalf("newest audit = %+v", entries[0])
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "push.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := st.Upsert(ctx, push.TaskDefinition{Tuple: tuple, CronExpression: "@daily", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok, err := st.FindByTuple(ctx, tuple); err != nil || !ok {
		t.Fatalf("definition lost across reopen: %v, %v", ok, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
