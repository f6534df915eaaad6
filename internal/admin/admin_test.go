package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"pushbot/internal/push"
	"pushbot/internal/task/scheduler"
	logx "pushbot/pkg/logx"
)

type fakeSchedules struct {
	all  []push.Status
	args []any
}

func (f *fakeSchedules) List(_ context.Context, actorID int64, tt push.TargetType, targetID int64) ([]push.Status, error) {
	f.args = []any{actorID, tt, targetID}
	return f.all[:1], nil
}

func (f *fakeSchedules) ListAll(context.Context) ([]push.Status, error) { return f.all, nil }

func testDeps() (Deps, *fakeSchedules) {
	fs := &fakeSchedules{all: []push.Status{
		{JobID: "a", Definition: push.TaskDefinition{Tuple: push.Tuple{ActorID: 1, TargetType: push.TargetGroup, TargetID: -5, HandlerKey: "REMINDER"}}},
		{JobID: "b"},
	}}
	return Deps{
		Schedules: fs,
		Handlers:  func() []push.HandlerInfo { return []push.HandlerInfo{{Key: "REMINDER"}} },
		Scheduler: func() scheduler.Snapshot { return scheduler.Snapshot{Running: true, Timezone: "UTC"} },
		Audit: func(_ context.Context, limit int) ([]push.AuditEntry, error) {
			return []push.AuditEntry{{Action: "schedule", Detail: strings.Repeat("x", limit%7)}}, nil
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("pushbot_up 1\n")) }),
	}, fs
}

func get(t *testing.T, h http.Handler, path string, hdr ...string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(hdr) == 2 {
		req.Header.Set(hdr[0], hdr[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	deps, fs := testDeps()
	h := NewRouter(Config{}, deps, logx.Nop())

	tests := []struct {
		path string
		code int
		want string
	}{
		{"/healthz", 200, "ok"},
		{"/metrics", 200, "pushbot_up 1"},
		{"/api/schedules", 200, `"job_id":"b"`},
		{"/api/schedules?actor=1&type=group&target=-5", 200, `"job_id":"a"`},
		{"/api/schedules?actor=1", 400, "together"},
		{"/api/engine", 200, `"timezone":"UTC"`},
		{"/api/handlers", 200, `"key":"REMINDER"`},
		{"/api/audit?limit=3", 200, `"detail":"xxx"`},
		{"/api/audit?limit=-1", 400, "positive"},
		{"/api/actors", 404, ""},
		{"/debug/pprof/", 404, ""},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.path)
		if code != tt.code || !strings.Contains(body, tt.want) {
			t.Errorf("GET %s = %d %q, want %d containing %q", tt.path, code, body, tt.code, tt.want)
		}
	}
	if fs.args[1] != push.TargetGroup || fs.args[2] != int64(-5) {
		t.Fatalf("List args = %v", fs.args)
	}
}

func TestHealthReportsFailure(t *testing.T) {
	t.Parallel()
	h := NewRouter(Config{}, Deps{Health: func() error { return errors.New("store closed") }}, logx.Nop())
	code, body := get(t, h, "/healthz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "store closed") {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestTokenGuardsEverythingButHealth(t *testing.T) {
	t.Parallel()
	deps, _ := testDeps()
	h := NewRouter(Config{Token: "s3cret", Pprof: true}, deps, logx.Nop())

	if code, _ := get(t, h, "/healthz"); code != 200 {
		t.Fatalf("healthz = %d", code)
	}
	if code, _ := get(t, h, "/api/handlers"); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", code)
	}
	if code, _ := get(t, h, "/api/handlers", "Authorization", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", code)
	}
	if code, _ := get(t, h, "/api/handlers", "Authorization", "Bearer s3cret"); code != 200 {
		t.Fatalf("bearer = %d", code)
	}
	if code, _ := get(t, h, "/api/handlers?token=s3cret"); code != http.StatusUnauthorized {
		t.Fatalf("query token = %d", code)
	}
	if code, _ := get(t, h, "/api/handlers", "Authorization", "Bearer s3cret-and-more"); code != http.StatusUnauthorized {
		t.Fatalf("token prefix = %d", code)
	}
	if code, _ := get(t, h, "/debug/pprof/", "Authorization", "Bearer s3cret"); code != 200 {
		t.Fatalf("pprof = %d", code)
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	deps, _ := testDeps()
	s := New(Config{Addr: "127.0.0.1:0"}, deps, logx.Nop())
	s.Start(context.Background())

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = s.Addr()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatalf("server never bound")
	}

	resp, err := http.Get("http://" + addr + "/api/handlers")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var infos []push.HandlerInfo
	if err := sonic.Unmarshal(body, &infos); err != nil || len(infos) != 1 {
		t.Fatalf("handlers = %q (%v)", body, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Addr() != "" || s.Supervisor() != nil {
		t.Fatalf("service still running after Stop")
	}

	s.Reconfigure(ctx, Config{})
	if s.Supervisor() != nil {
		t.Fatalf("disabled config started the service")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9":        true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
