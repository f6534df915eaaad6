package push

import (
	"errors"
	"fmt"
)

var (
	// ErrActorOffline is returned when the acting bot is not connected.
	// The job engine is expected to retry with backoff.
	ErrActorOffline = errors.New("push: actor offline")

	ErrInvalidSchedule  = errors.New("push: invalid schedule")
	ErrTargetNotAllowed = errors.New("push: target type not allowed for handler")
	ErrNotFound         = errors.New("push: definition not found")

	// ErrContextDone is returned by Reply outside the invocation it was made for.
	ErrContextDone = errors.New("push: execution context no longer active")
)

// HandlerNotFoundError means a stored definition references a handler key
// that is not compiled into the running process.
type HandlerNotFoundError struct {
	Key string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("push: handler %q is not registered", e.Key)
}

// ParamError reports a parameter that cannot be converted into the handler's
// declared type. Retrying cannot fix it.
type ParamError struct {
	Key  string
	Want string
	Got  string
	Err  error
}

func (e *ParamError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("push: handler %q parameter: cannot convert %s to %s: %v", e.Key, e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("push: parameter: cannot convert %s to %s: %v", e.Got, e.Want, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

// ConfigError reports a handler configuration that failed to resolve.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("push: handler %q config: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned (or a panic raised) by handler code.
// The original error stays reachable through errors.Is/As.
type HandlerError struct {
	Key string
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("push: handler %q: %v", e.Key, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsRetryable reports whether the job engine should retry a firing that
// failed with err. Offline actors and handler business errors are retryable;
// registration, target, parameter and config errors are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrTargetNotAllowed) {
		return false
	}
	var (
		nf *HandlerNotFoundError
		pe *ParamError
		ce *ConfigError
	)
	switch {
	case errors.As(err, &nf), errors.As(err, &pe), errors.As(err, &ce):
		return false
	default:
		return true
	}
}
