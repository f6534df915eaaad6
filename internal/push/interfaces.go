package push

import (
	"context"
	"encoding/json"
	"time"
)

// DefinitionStore persists task definitions. The tuple is unique.
type DefinitionStore interface {
	Upsert(ctx context.Context, def TaskDefinition) (TaskDefinition, error)
	FindByTuple(ctx context.Context, t Tuple) (TaskDefinition, bool, error)
	Delete(ctx context.Context, t Tuple) (bool, error)
	ListByActorAndTarget(ctx context.Context, actorID int64, targetType TargetType, targetID int64) ([]TaskDefinition, error)
	List(ctx context.Context) ([]TaskDefinition, error)
	SetEnabled(ctx context.Context, t Tuple, enabled bool) (TaskDefinition, bool, error)
}

// Auditor is implemented by stores that keep a mutation log.
type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

type AuditEntry struct {
	At          time.Time `json:"at"`
	Action      string    `json:"action"`
	Tuple       Tuple     `json:"tuple"`
	JobID       string    `json:"job_id"`
	RequestedBy int64     `json:"requested_by,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Actor is a connected bot account able to talk to conversations.
type Actor interface {
	ID() int64
	SendText(ctx context.Context, chatID int64, text string) error
}

type ActorRegistry interface {
	IsOnline(actorID int64) bool
	Get(actorID int64) (Actor, bool)
}

// Schedule is either a cron expression or a one-shot wall-clock time.
type Schedule struct {
	Cron string
	At   time.Time
}

// TriggerEngine is the durable job engine side: it keeps triggers by job id
// and calls back into the bridge when they fire.
type TriggerEngine interface {
	RegisterTrigger(ctx context.Context, jobID string, s Schedule, payload []byte) error
	DeregisterTrigger(ctx context.Context, jobID string) (bool, error)
	Next(jobID string) (next, prev time.Time, ok bool)
	JobIDs() []string
}

// ConfigResolver supplies raw per-handler configuration by handler key.
type ConfigResolver interface {
	HandlerConfig(key string) (json.RawMessage, bool)
}

type Outcome string

const (
	OutcomeFired           Outcome = "fired"
	OutcomeSkippedGone     Outcome = "skipped_gone"
	OutcomeSkippedDisabled Outcome = "skipped_disabled"
	OutcomeOffline         Outcome = "offline"
	OutcomeRejected        Outcome = "rejected"
	OutcomeFailed          Outcome = "failed"
)

// Observer receives one call per Fire.
type Observer interface {
	ObserveFire(key string, outcome Outcome, d time.Duration)
}
