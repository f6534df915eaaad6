package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pushbot/internal/eventbus"
	"pushbot/internal/storage"
	"pushbot/internal/task/engine"
	logx "pushbot/pkg/logx"
)

// Config controls the trigger registry.
type Config struct {
	Timezone    string        // IANA TZ, e.g. "Asia/Jakarta"
	TaskTimeout time.Duration // per firing; 0 uses the engine default
}

// Schedule is either a cron expression or a one-shot wall-clock time.
type Schedule struct {
	Cron string
	At   time.Time
}

// FireFunc runs one firing of jobID with the payload it was registered with.
type FireFunc func(ctx context.Context, jobID string, payload []byte) error

type trigger struct {
	jobID   string
	cron    string
	at      time.Time
	payload []byte

	entryID       cron.EntryID
	startupSpread time.Duration
	timer         *time.Timer
	ver           uint64

	// Shared by every firing of this job so they never overlap.
	state *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service
	store  storage.TriggerStore
	onFire FireFunc

	// Read by firing goroutines without taking mu.
	taskTimeout atomic.Int64

	parser   cron.Parser
	c        *cron.Cron
	triggers map[string]*trigger
	verSeq   uint64

	// Enqueue error throttling, keyed by job id.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type TriggerInfo struct {
	JobID         string        `json:"job_id"`
	Spec          string        `json:"spec"`
	OneShot       bool          `json:"one_shot"`
	Next          time.Time     `json:"next"`
	Prev          time.Time     `json:"prev"`
	StartupSpread time.Duration `json:"startup_spread,omitempty"`
}

type Snapshot struct {
	Running  bool            `json:"running"`
	Timezone string          `json:"timezone"`
	Triggers []TriggerInfo   `json:"triggers"`
	Engine   engine.Snapshot `json:"engine"`
}

// TriggerEvent is published on the event bus when a trigger fires.
type TriggerEvent struct {
	JobID   string    `json:"job_id"`
	OneShot bool      `json:"one_shot"`
	At      time.Time `json:"at"`
}
