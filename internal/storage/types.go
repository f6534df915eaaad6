package storage

import (
	"context"
	"errors"
	"time"

	"pushbot/internal/push"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	AuditKeep   int           // rows kept in the audit log; 0 means default
}

// TriggerRecord is the persisted form of one job engine trigger.
// Exactly one of Cron and At is set.
type TriggerRecord struct {
	JobID     string
	Cron      string
	At        time.Time
	Payload   []byte
	UpdatedAt time.Time
}

// TriggerStore keeps engine triggers across restarts.
type TriggerStore interface {
	SaveTrigger(ctx context.Context, r TriggerRecord) error
	DeleteTrigger(ctx context.Context, jobID string) (bool, error)
	LoadTriggers(ctx context.Context) ([]TriggerRecord, error)
}

// Store is everything the bot persists.
type Store interface {
	push.DefinitionStore
	push.Auditor
	TriggerStore

	// ListAudit returns the newest entries first.
	ListAudit(ctx context.Context, limit int) ([]push.AuditEntry, error)
	Close() error
}

const defaultAuditKeep = 5000
