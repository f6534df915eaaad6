package push

import (
	"context"
	"strings"
	"testing"
)

func mustPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", contains)
		}
		if msg, _ := r.(string); !strings.Contains(msg, contains) {
			t.Fatalf("panic = %v, want it to contain %q", r, contains)
		}
	}()
	fn()
}

func noop[P any](context.Context, *ExecutionContext, P) error { return nil }

func TestRegistryResolveAndList(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	Register(r, "REMINDER", noop[string], WithDisplayName("Reminder"))
	Register(r, "SPEEDTEST", noop[NoParam], AllowedTargets(TargetGroup), WithDescription("runs a speed test"))

	reg, ok := r.Resolve(" REMINDER ")
	if !ok {
		t.Fatal("Resolve(REMINDER) not found")
	}
	if reg.ParamType != "string" {
		t.Fatalf("ParamType = %q", reg.ParamType)
	}
	if _, ok := r.Resolve("MISSING"); ok {
		t.Fatal("Resolve(MISSING) found")
	}

	list := r.List()
	if len(list) != 2 || list[0].Key != "REMINDER" || list[1].Key != "SPEEDTEST" {
		t.Fatalf("List = %+v", list)
	}
	if len(list[0].AllowedTargets) != 2 {
		t.Fatalf("default allowed targets = %v", list[0].AllowedTargets)
	}

	st, _ := r.Resolve("SPEEDTEST")
	if st.Allows(TargetPrivate) || !st.Allows(TargetGroup) {
		t.Fatalf("SPEEDTEST allowed targets = %v", st.AllowedTargets)
	}
	if st.DisplayName != "SPEEDTEST" {
		t.Fatalf("DisplayName defaults to key, got %q", st.DisplayName)
	}
}

func TestRegistryPanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	Register(r, "REMINDER", noop[string])

	mustPanic(t, "duplicate", func() { Register(r, "REMINDER", noop[string]) })
	mustPanic(t, "required", func() { Register(r, "  ", noop[string]) })
	mustPanic(t, "invalid allowed target", func() { Register(r, "X", noop[string], AllowedTargets("CHANNEL")) })

	r.Seal()
	if !r.Sealed() {
		t.Fatal("Sealed() = false after Seal")
	}
	mustPanic(t, "sealed", func() { Register(r, "LATE", noop[string]) })
}

func TestRegistryCheckParam(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	Register(r, "COUNT", noop[int])
	reg, _ := r.Resolve("COUNT")

	if err := reg.CheckParam([]byte(`"12"`)); err != nil {
		t.Fatalf("CheckParam(\"12\") error: %v", err)
	}
	err := reg.CheckParam([]byte(`"twelve"`))
	pe, ok := err.(*ParamError)
	if !ok {
		t.Fatalf("CheckParam error = %T, want *ParamError", err)
	}
	if pe.Key != "COUNT" || pe.Want != "int" {
		t.Fatalf("ParamError = %+v", pe)
	}
}
