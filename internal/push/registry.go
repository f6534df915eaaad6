package push

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// HandlerFunc is the typed body of a scheduled push.
type HandlerFunc[P any] func(ctx context.Context, ec *ExecutionContext, param P) error

// HandlerWithConfigFunc additionally receives the handler's resolved configuration.
type HandlerWithConfigFunc[P, C any] func(ctx context.Context, ec *ExecutionContext, param P, cfg C) error

// Option configures a handler registration.
type Option func(*Registration)

func WithDisplayName(name string) Option {
	return func(r *Registration) { r.DisplayName = strings.TrimSpace(name) }
}

func WithDescription(desc string) Option {
	return func(r *Registration) { r.Description = strings.TrimSpace(desc) }
}

// AllowedTargets restricts the conversation kinds a handler can be scheduled for.
// Without it both GROUP and PRIVATE are allowed.
func AllowedTargets(types ...TargetType) Option {
	return func(r *Registration) { r.AllowedTargets = slices.Clone(types) }
}

// Registration is the erased form of a registered handler.
type Registration struct {
	Key            string
	DisplayName    string
	Description    string
	ParamType      string
	ConfigType     string
	AllowedTargets []TargetType

	prepare      func(raw any) (func(ctx context.Context, ec *ExecutionContext) error, error)
	decodeConfig func(raw json.RawMessage) (any, error)
}

// Allows reports whether the handler may run for target type t.
func (r *Registration) Allows(t TargetType) bool {
	if len(r.AllowedTargets) == 0 {
		return t.Valid()
	}
	return slices.Contains(r.AllowedTargets, t)
}

// CheckParam reports whether raw converts into the handler's parameter type.
func (r *Registration) CheckParam(raw any) error {
	_, err := r.prepare(raw)
	return err
}

// HandlerInfo is display metadata for a registration.
type HandlerInfo struct {
	Key            string       `json:"key"`
	DisplayName    string       `json:"display_name"`
	Description    string       `json:"description,omitempty"`
	ParamType      string       `json:"param_type"`
	ConfigType     string       `json:"config_type,omitempty"`
	AllowedTargets []TargetType `json:"allowed_targets"`
}

// Registry maps handler keys to registrations. It is filled at boot and
// sealed before the job engine starts.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	byKey  map[string]*Registration
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Registration)}
}

// Register adds a handler taking parameter type P.
// It panics on an empty or duplicate key and after Seal.
func Register[P any](r *Registry, key string, fn HandlerFunc[P], opts ...Option) {
	if fn == nil {
		panic(fmt.Sprintf("push: nil handler for key %q", key))
	}
	reg := &Registration{Key: strings.TrimSpace(key), ParamType: typeName[P]()}
	reg.prepare = func(raw any) (func(context.Context, *ExecutionContext) error, error) {
		p, err := Convert[P](raw)
		if err != nil {
			return nil, withParamKey(err, reg.Key)
		}
		return func(ctx context.Context, ec *ExecutionContext) error {
			return fn(ctx, ec, p)
		}, nil
	}
	r.add(reg, opts)
}

// RegisterWithConfig adds a handler taking parameter type P and config type C.
// The config is looked up by handler key through the bridge's ConfigResolver.
func RegisterWithConfig[P, C any](r *Registry, key string, fn HandlerWithConfigFunc[P, C], opts ...Option) {
	if fn == nil {
		panic(fmt.Sprintf("push: nil handler for key %q", key))
	}
	reg := &Registration{
		Key:        strings.TrimSpace(key),
		ParamType:  typeName[P](),
		ConfigType: typeName[C](),
	}
	reg.prepare = func(raw any) (func(context.Context, *ExecutionContext) error, error) {
		p, err := Convert[P](raw)
		if err != nil {
			return nil, withParamKey(err, reg.Key)
		}
		return func(ctx context.Context, ec *ExecutionContext) error {
			cfg, _ := ec.Config.(C)
			return fn(ctx, ec, p, cfg)
		}, nil
	}
	reg.decodeConfig = func(raw json.RawMessage) (any, error) {
		return Convert[C](raw)
	}
	r.add(reg, opts)
}

func withParamKey(err error, key string) error {
	if pe, ok := err.(*ParamError); ok {
		pe.Key = key
	}
	return err
}

func (r *Registry) add(reg *Registration, opts []Option) {
	for _, o := range opts {
		o(reg)
	}
	if reg.Key == "" {
		panic("push: handler key is required")
	}
	if reg.DisplayName == "" {
		reg.DisplayName = reg.Key
	}
	for _, t := range reg.AllowedTargets {
		if !t.Valid() {
			panic(fmt.Sprintf("push: handler %q: invalid allowed target %q", reg.Key, t))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("push: register %q after registry was sealed", reg.Key))
	}
	if _, dup := r.byKey[reg.Key]; dup {
		panic(fmt.Sprintf("push: duplicate handler key %q", reg.Key))
	}
	r.byKey[reg.Key] = reg
}

// Seal freezes the registry. Further Register calls panic.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) Resolve(key string) (*Registration, bool) {
	r.mu.RLock()
	reg, ok := r.byKey[strings.TrimSpace(key)]
	r.mu.RUnlock()
	return reg, ok
}

// List returns handler metadata sorted by key.
func (r *Registry) List() []HandlerInfo {
	r.mu.RLock()
	out := make([]HandlerInfo, 0, len(r.byKey))
	for _, reg := range r.byKey {
		allowed := reg.AllowedTargets
		if len(allowed) == 0 {
			allowed = []TargetType{TargetGroup, TargetPrivate}
		}
		out = append(out, HandlerInfo{
			Key:            reg.Key,
			DisplayName:    reg.DisplayName,
			Description:    reg.Description,
			ParamType:      reg.ParamType,
			ConfigType:     reg.ConfigType,
			AllowedTargets: slices.Clone(allowed),
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
