package config

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram   TelegramConfig    `json:"telegram"`
	Logging    LoggingConfig     `json:"logging"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Admin      AdminConfig       `json:"admin,omitempty"`

	// Handlers holds raw per-handler config keyed by handler key.
	Handlers map[string]json.RawMessage `json:"handlers,omitempty"`
}

type TelegramConfig struct {
	// Token is shorthand for a single bot. It is merged into Bots.
	Token        string      `json:"token,omitempty"`
	Bots         []BotConfig `json:"bots,omitempty"`
	OwnerUserIDs []int64     `json:"owner_user_ids"`

	PollTimeout   string `json:"poll_timeout,omitempty"`
	ProbeInterval string `json:"probe_interval,omitempty"`

	// Outgoing message throttle per bot.
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
}

type BotConfig struct {
	Name  string `json:"name,omitempty"`
	Token string `json:"token"`
}

// EffectiveBots returns Bots with the shorthand token appended when it is
// not already listed.
func (t TelegramConfig) EffectiveBots() []BotConfig {
	out := make([]BotConfig, 0, len(t.Bots)+1)
	seen := map[string]bool{}
	for _, b := range t.Bots {
		b.Token = strings.TrimSpace(b.Token)
		if b.Token == "" || seen[b.Token] {
			continue
		}
		seen[b.Token] = true
		out = append(out, b)
	}
	if tok := strings.TrimSpace(t.Token); tok != "" && !seen[tok] {
		out = append(out, BotConfig{Name: "default", Token: tok})
	}
	return out
}

// IsOwner reports whether userID may change schedules.
func (t TelegramConfig) IsOwner(userID int64) bool {
	for _, id := range t.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig selects the definition store.
//
//	"storage": { "driver": "sqlite", "path": "./pushbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	AuditKeep   int    `json:"audit_keep,omitempty"`
}

// SchedulerConfig controls the trigger registry.
type SchedulerConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	TaskTimeout string `json:"task_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs fired jobs.
//
// Defaults when omitted: enabled, 2 workers, queue 256, history 200,
// retry_max 3, retry_base 500ms, retry_max_delay 15s.
type TaskEngineConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
}

// AdminConfig controls the read-only HTTP surface. Empty Addr disables it.
// A non-loopback Addr needs Token unless AllowInsecure is set.
type AdminConfig struct {
	Addr          string `json:"addr,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

// HandlerConfig returns the raw config block for a handler key.
func (c *Config) HandlerConfig(key string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	raw, ok := c.Handlers[strings.TrimSpace(key)]
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	return raw, true
}
