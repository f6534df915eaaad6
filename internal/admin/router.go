package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pushbot/internal/actor"
	"pushbot/internal/push"
	"pushbot/internal/task/scheduler"
	logx "pushbot/pkg/logx"
)

// Schedules is the read side of the schedule facade.
type Schedules interface {
	List(ctx context.Context, actorID int64, targetType push.TargetType, targetID int64) ([]push.Status, error)
	ListAll(ctx context.Context) ([]push.Status, error)
}

// Deps are the read-only views the API serves. Nil fields answer 404.
type Deps struct {
	Schedules Schedules
	Handlers  func() []push.HandlerInfo
	Scheduler func() scheduler.Snapshot
	Actors    func() []actor.Status
	Audit     func(ctx context.Context, limit int) ([]push.AuditEntry, error)
	Metrics   http.Handler
	// Health returns nil while the process is healthy.
	Health func() error
}

// NewRouter builds the admin routes. Every route except /healthz requires
// the token when one is set.
func NewRouter(cfg Config, d Deps, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, requestLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		if d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", d.Metrics)
		}
		r.Route("/api", func(r chi.Router) {
			if d.Schedules != nil {
				r.Get("/schedules", schedulesHandler(d.Schedules))
			}
			if d.Scheduler != nil {
				r.Get("/engine", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, d.Scheduler()) })
			}
			if d.Handlers != nil {
				r.Get("/handlers", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, d.Handlers()) })
			}
			if d.Actors != nil {
				r.Get("/actors", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, d.Actors()) })
			}
			if d.Audit != nil {
				r.Get("/audit", auditHandler(d.Audit))
			}
		})
		if cfg.Pprof {
			r.HandleFunc("/debug/pprof/*", hpprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		}
	})
	return r
}

func schedulesHandler(s Schedules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		actorQ, typeQ, targetQ := q.Get("actor"), q.Get("type"), q.Get("target")
		if actorQ == "" && typeQ == "" && targetQ == "" {
			sts, err := s.ListAll(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, sts)
			return
		}

		actorID, err1 := strconv.ParseInt(actorQ, 10, 64)
		targetID, err2 := strconv.ParseInt(targetQ, 10, 64)
		tt, err3 := push.ParseTargetType(typeQ)
		if err := errors.Join(err1, err2, err3); err != nil {
			http.Error(w, "actor, type and target must be given together: "+err.Error(), http.StatusBadRequest)
			return
		}
		sts, err := s.List(r.Context(), actorID, tt, targetID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sts)
	}
}

func auditHandler(list func(ctx context.Context, limit int) ([]push.AuditEntry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, 1000)
		}
		entries, err := list(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

// bearerAuth requires "Authorization: Bearer <token>" when token is set.
func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("admin request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
				logx.String("req_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
