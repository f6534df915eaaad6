package push

import (
	"context"
	"errors"
	"testing"
)

func TestBindInstallsAndTearsDown(t *testing.T) {
	t.Parallel()
	ec := &ExecutionContext{ActorID: 1, TargetType: TargetGroup, TargetID: 10}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("unbound context reports bound")
	}

	var leaked context.Context
	err := Bind(context.Background(), ec, func(ctx context.Context) error {
		got, ok := FromContext(ctx)
		if !ok || got != ec {
			t.Fatalf("FromContext inside body = %v, %v", got, ok)
		}
		leaked = ctx
		return nil
	})
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if _, ok := FromContext(leaked); ok {
		t.Fatal("context leaked past Bind still reports bound")
	}
	if ec.Active() {
		t.Fatal("ec still active after Bind returned")
	}
}

func TestBindPropagatesErrorAndPanic(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	ec := &ExecutionContext{ActorID: 1}
	if err := Bind(context.Background(), ec, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Bind error = %v, want boom", err)
	}

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Fatalf("recovered %v, want kaboom", r)
			}
		}()
		_ = Bind(context.Background(), ec, func(context.Context) error { panic("kaboom") })
	}()
	if ec.Active() {
		t.Fatal("ec still active after panic")
	}
}

func TestBindRejectsNested(t *testing.T) {
	t.Parallel()
	ec := &ExecutionContext{ActorID: 1}
	err := Bind(context.Background(), ec, func(ctx context.Context) error {
		return Bind(ctx, ec, func(context.Context) error { return nil })
	})
	if !errors.Is(err, errAlreadyBound) {
		t.Fatalf("nested Bind error = %v", err)
	}
}

func TestConfigOf(t *testing.T) {
	t.Parallel()
	type cfg struct{ Header string }
	ec := &ExecutionContext{Config: cfg{Header: "h"}}
	c, ok := ConfigOf[cfg](ec)
	if !ok || c.Header != "h" {
		t.Fatalf("ConfigOf = %+v, %v", c, ok)
	}
	if _, ok := ConfigOf[string](ec); ok {
		t.Fatal("ConfigOf[string] matched a struct")
	}
}

func TestReplyOnlyWhileBound(t *testing.T) {
	t.Parallel()
	actor := &fakeActor{id: 1}
	ec := &ExecutionContext{Actor: actor, ActorID: 1, TargetType: TargetGroup, TargetID: 10}

	err := Bind(context.Background(), ec, func(ctx context.Context) error {
		return ec.Reply(ctx, "inside")
	})
	if err != nil {
		t.Fatalf("Reply inside Bind: %v", err)
	}
	if err := ec.Reply(context.Background(), "after"); !errors.Is(err, ErrContextDone) {
		t.Fatalf("Reply after Bind = %v, want ErrContextDone", err)
	}
	actor.mu.Lock()
	defer actor.mu.Unlock()
	if len(actor.sent) != 1 || actor.sent[0].text != "inside" {
		t.Fatalf("sent = %+v", actor.sent)
	}
}
