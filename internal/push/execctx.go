package push

import (
	"context"
	"errors"
	"sync/atomic"
)

// ExecutionContext is what a handler sees about the firing it serves: who is
// acting, which conversation is addressed and the handler's configuration.
//
// It is created for exactly one invocation and is reachable only through the
// context passed to that invocation.
type ExecutionContext struct {
	Actor      Actor
	ActorID    int64
	TargetType TargetType
	TargetID   int64
	Event      Event
	Config     any

	active atomic.Bool
}

// Active reports whether the context is still bound to a running invocation.
func (ec *ExecutionContext) Active() bool { return ec != nil && ec.active.Load() }

// Reply sends text to the addressed conversation as the acting bot.
// It fails with ErrContextDone once the invocation has returned.
func (ec *ExecutionContext) Reply(ctx context.Context, text string) error {
	if ec == nil || ec.Actor == nil {
		return ErrActorOffline
	}
	if !ec.Active() {
		return ErrContextDone
	}
	return ec.Actor.SendText(ctx, ec.TargetID, text)
}

type execCtxKey struct{}

var errAlreadyBound = errors.New("push: execution context already bound")

// Bind runs body with ec installed in a context derived from ctx. ec is
// deactivated when body returns or panics; a panic is re-raised afterwards.
func Bind(ctx context.Context, ec *ExecutionContext, body func(ctx context.Context) error) error {
	if ec == nil {
		return errors.New("push: nil execution context")
	}
	if !ec.active.CompareAndSwap(false, true) {
		return errAlreadyBound
	}
	defer ec.active.Store(false)
	return body(context.WithValue(ctx, execCtxKey{}, ec))
}

// FromContext returns the execution context bound to ctx. A context that
// outlived its invocation reports not bound.
func FromContext(ctx context.Context) (*ExecutionContext, bool) {
	if ctx == nil {
		return nil, false
	}
	ec, ok := ctx.Value(execCtxKey{}).(*ExecutionContext)
	if !ok || !ec.Active() {
		return nil, false
	}
	return ec, true
}

// ConfigOf returns the bound handler configuration as C.
func ConfigOf[C any](ec *ExecutionContext) (C, bool) {
	var zero C
	if ec == nil {
		return zero, false
	}
	c, ok := ec.Config.(C)
	return c, ok
}
