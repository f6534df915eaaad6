package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pushbot/internal/eventbus"
)

type bridgeFixture struct {
	store    *fakeStore
	actors   *fakeActors
	registry *Registry
	observer *countingObserver
	bridge   *Bridge
	calls    atomic.Int64
}

var groupTuple = Tuple{ActorID: 1, TargetType: TargetGroup, TargetID: 123, HandlerKey: "DAILY_REPORT"}

func newBridgeFixture(t *testing.T, opts ...BridgeOption) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		store:    newFakeStore(),
		actors:   newFakeActors(1, 2),
		registry: NewRegistry(),
		observer: &countingObserver{},
	}
	Register(f.registry, "DAILY_REPORT", func(ctx context.Context, ec *ExecutionContext, p reportParam) error {
		f.calls.Add(1)
		return ec.Reply(ctx, "report "+p.Title)
	})
	Register(f.registry, "FAIL", func(context.Context, *ExecutionContext, NoParam) error {
		return errBusiness
	})
	Register(f.registry, "PANIC", func(context.Context, *ExecutionContext, NoParam) error {
		panic("handler bug")
	})
	Register(f.registry, "COUNT", func(context.Context, *ExecutionContext, int) error { return nil })
	Register(f.registry, "GROUP_ONLY", func(context.Context, *ExecutionContext, NoParam) error { return nil }, AllowedTargets(TargetGroup))
	f.registry.Seal()
	opts = append([]BridgeOption{WithObserver(f.observer)}, opts...)
	f.bridge = NewBridge(f.store, f.actors, f.registry, opts...)
	return f
}

var errBusiness = errors.New("upstream said no")

func (f *bridgeFixture) put(t *testing.T, tu Tuple, enabled bool, param string) {
	t.Helper()
	def := TaskDefinition{Tuple: tu, CronExpression: "0 0 9 * * *", Enabled: enabled}
	if param != "" {
		def.Parameter = json.RawMessage(param)
	}
	if _, err := f.store.Upsert(context.Background(), def); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestFireInvokesHandler(t *testing.T) {
	t.Parallel()
	f := newBridgeFixture(t)
	f.put(t, groupTuple, true, `{"title":"Morning"}`)

	if err := f.bridge.Fire(context.Background(), Trigger{Tuple: groupTuple}); err != nil {
		t.Fatalf("Fire error: %v", err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", f.calls.Load())
	}
	a := f.actors.actors[1]
	if len(a.sent) != 1 || a.sent[0].chatID != 123 || a.sent[0].text != "report Morning" {
		t.Fatalf("sent = %+v", a.sent)
	}
	if f.observer.count(OutcomeFired) != 1 {
		t.Fatal("observer did not see fired outcome")
	}
}

func TestFireSkipsWhenGoneOrDisabled(t *testing.T) {
	t.Parallel()
	f := newBridgeFixture(t)

	if err := f.bridge.Fire(context.Background(), Trigger{Tuple: groupTuple}); err != nil {
		t.Fatalf("Fire(gone) error: %v", err)
	}
	f.put(t, groupTuple, false, "")
	if err := f.bridge.Fire(context.Background(), Trigger{Tuple: groupTuple}); err != nil {
		t.Fatalf("Fire(disabled) error: %v", err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("handler calls = %d, want 0", f.calls.Load())
	}
	if f.observer.count(OutcomeSkippedGone) != 1 || f.observer.count(OutcomeSkippedDisabled) != 1 {
		t.Fatalf("observer = %+v", f.observer.got)
	}
}

func TestFireOfflineRetriesThenRunsOnce(t *testing.T) {
	t.Parallel()
	f := newBridgeFixture(t)
	f.put(t, groupTuple, true, "")
	f.actors.setOnline(1, false)

	err := f.bridge.Fire(context.Background(), Trigger{Tuple: groupTuple})
	if !errors.Is(err, ErrActorOffline) {
		t.Fatalf("Fire(offline) error = %v, want ErrActorOffline", err)
	}
	if !IsRetryable(err) {
		t.Fatal("offline error must be retryable")
	}
	if f.calls.Load() != 0 {
		t.Fatal("handler ran while actor offline")
	}

	f.actors.setOnline(1, true)
	if err := f.bridge.Fire(context.Background(), Trigger{Tuple: groupTuple}); err != nil {
		t.Fatalf("Fire(online) error: %v", err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want exactly 1", f.calls.Load())
	}
}

func TestFireRejections(t *testing.T) {
	t.Parallel()
	f := newBridgeFixture(t)

	missing := Tuple{ActorID: 1, TargetType: TargetGroup, TargetID: 5, HandlerKey: "REMOVED_PLUGIN"}
	f.put(t, missing, true, "")
	err := f.bridge.Fire(context.Background(), Trigger{Tuple: missing})
	var nf *HandlerNotFoundError
	if !errors.As(err, &nf) || nf.Key != "REMOVED_PLUGIN" {
		t.Fatalf("missing handler error = %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("missing handler must not be retryable")
	}

	bad := Tuple{ActorID: 1, TargetType: TargetGroup, TargetID: 5, HandlerKey: "COUNT"}
	f.put(t, bad, true, `"many"`)
	err = f.bridge.Fire(context.Background(), Trigger{Tuple: bad})
	var pe *ParamError
	if !errors.As(err, &pe) || pe.Key != "COUNT" {
		t.Fatalf("param error = %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("param error must not be retryable")
	}

	private := Tuple{ActorID: 1, TargetType: TargetPrivate, TargetID: 9, HandlerKey: "GROUP_ONLY"}
	f.put(t, private, true, "")
	err = f.bridge.Fire(context.Background(), Trigger{Tuple: private})
	if !errors.Is(err, ErrTargetNotAllowed) || IsRetryable(err) {
		t.Fatalf("target error = %v", err)
	}
}

func TestFireHandlerErrors(t *testing.T) {
	t.Parallel()
	f := newBridgeFixture(t)

	failing := Tuple{ActorID: 1, TargetType: TargetGroup, TargetID: 5, HandlerKey: "FAIL"}
	f.put(t, failing, true, "")
	err := f.bridge.Fire(context.Background(), Trigger{Tuple: failing})
	if !errors.Is(err, errBusiness) {
		t.Fatalf("business error not propagated: %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("business errors are left to the engine retry policy")
	}

	panicking := Tuple{ActorID: 1, TargetType: TargetGroup, TargetID: 5, HandlerKey: "PANIC"}
	f.put(t, panicking, true, "")
	err = f.bridge.Fire(context.Background(), Trigger{Tuple: panicking})
	var he *HandlerError
	if !errors.As(err, &he) || he.Key != "PANIC" {
		t.Fatalf("panic error = %v", err)
	}
}

func TestFireParameterPrecedence(t *testing.T) {
	t.Parallel()
	f := newBridgeFixture(t)
	var got atomic.Value
	r := NewRegistry()
	Register(r, "ECHO", func(_ context.Context, _ *ExecutionContext, s string) error {
		got.Store(s)
		return nil
	})
	b := NewBridge(f.store, f.actors, r)
	tu := Tuple{ActorID: 1, TargetType: TargetGroup, TargetID: 5, HandlerKey: "ECHO"}

	f.put(t, tu, true, `"stored"`)
	if err := b.Fire(context.Background(), Trigger{Tuple: tu, Parameter: json.RawMessage(`"payload"`)}); err != nil {
		t.Fatalf("Fire error: %v", err)
	}
	if got.Load() != "stored" {
		t.Fatalf("param = %v, want stored", got.Load())
	}

	f.put(t, tu, true, "")
	if err := b.Fire(context.Background(), Trigger{Tuple: tu, Parameter: json.RawMessage(`"payload"`)}); err != nil {
		t.Fatalf("Fire error: %v", err)
	}
	if got.Load() != "payload" {
		t.Fatalf("param = %v, want payload", got.Load())
	}
}

func TestFireConfig(t *testing.T) {
	t.Parallel()
	type cfg struct {
		Header string `json:"header"`
	}
	store := newFakeStore()
	actors := newFakeActors(1)
	r := NewRegistry()
	var header atomic.Value
	RegisterWithConfig(r, "HDR", func(_ context.Context, ec *ExecutionContext, _ NoParam, c cfg) error {
		header.Store(c.Header)
		return nil
	})
	tu := Tuple{ActorID: 1, TargetType: TargetPrivate, TargetID: 7, HandlerKey: "HDR"}
	if _, err := store.Upsert(context.Background(), TaskDefinition{Tuple: tu, Enabled: true, CronExpression: "@daily"}); err != nil {
		t.Fatal(err)
	}

	b := NewBridge(store, actors, r, WithConfigResolver(staticConfig{"HDR": json.RawMessage(`{"header":"Hi"}`)}))
	if err := b.Fire(context.Background(), Trigger{Tuple: tu}); err != nil {
		t.Fatalf("Fire error: %v", err)
	}
	if header.Load() != "Hi" {
		t.Fatalf("header = %v", header.Load())
	}

	b = NewBridge(store, actors, r, WithConfigResolver(staticConfig{"HDR": json.RawMessage(`[1]`)}))
	err := b.Fire(context.Background(), Trigger{Tuple: tu})
	var ce *ConfigError
	if !errors.As(err, &ce) || IsRetryable(err) {
		t.Fatalf("config error = %v", err)
	}
}

type staticConfig map[string]json.RawMessage

func (s staticConfig) HandlerConfig(key string) (json.RawMessage, bool) {
	raw, ok := s[key]
	return raw, ok
}

func TestFireContextIsolation(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	actors := newFakeActors(1, 2)
	r := NewRegistry()

	var mu sync.Mutex
	var mismatches []string
	Register(r, "OBSERVE", func(ctx context.Context, ec *ExecutionContext, want int64) error {
		// Yield so concurrent firings interleave.
		time.Sleep(time.Millisecond)
		got, ok := FromContext(ctx)
		if !ok || got != ec || got.TargetID != want || got.Event.ChatID != want || got.Actor.ID() != got.ActorID {
			mu.Lock()
			mismatches = append(mismatches, fmt.Sprintf("want target %d, got %+v", want, got))
			mu.Unlock()
		}
		return nil
	})

	const n = 50
	tuples := make([]Tuple, 0, n)
	for i := 0; i < n; i++ {
		tt := TargetGroup
		if i%2 == 1 {
			tt = TargetPrivate
		}
		tu := Tuple{ActorID: int64(1 + i%2), TargetType: tt, TargetID: int64(1000 + i), HandlerKey: "OBSERVE"}
		param, _ := json.Marshal(tu.TargetID)
		if _, err := store.Upsert(context.Background(), TaskDefinition{Tuple: tu, Parameter: param, Enabled: true, CronExpression: "@hourly"}); err != nil {
			t.Fatal(err)
		}
		tuples = append(tuples, tu)
	}

	b := NewBridge(store, actors, r)
	var wg sync.WaitGroup
	for _, tu := range tuples {
		wg.Add(1)
		go func(tu Tuple) {
			defer wg.Done()
			if err := b.Fire(context.Background(), Trigger{Tuple: tu}); err != nil {
				t.Errorf("Fire(%s): %v", tu, err)
			}
		}(tu)
	}
	wg.Wait()
	if len(mismatches) > 0 {
		t.Fatalf("context crossed invocations: %v", mismatches)
	}
}

func TestFirePublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	f := newBridgeFixture(t, WithBus(bus))
	if err := f.bridge.Fire(context.Background(), Trigger{Tuple: groupTuple}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-ch:
		if ev.Type != "push.skipped" {
			t.Fatalf("event type = %s", ev.Type)
		}
		fe, ok := ev.Data.(FireEvent)
		if !ok || fe.Outcome != OutcomeSkippedGone || fe.JobID != JobID(groupTuple) {
			t.Fatalf("event data = %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
