package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TargetType is the kind of conversation a push addresses.
type TargetType string

const (
	TargetGroup   TargetType = "GROUP"
	TargetPrivate TargetType = "PRIVATE"
)

// ParseTargetType accepts "group"/"private" in any case.
func ParseTargetType(s string) (TargetType, error) {
	switch TargetType(strings.ToUpper(strings.TrimSpace(s))) {
	case TargetGroup:
		return TargetGroup, nil
	case TargetPrivate:
		return TargetPrivate, nil
	default:
		return "", fmt.Errorf("unknown target type %q (want GROUP or PRIVATE)", s)
	}
}

func (t TargetType) Valid() bool { return t == TargetGroup || t == TargetPrivate }

// Tuple is the unique identity of a schedule.
type Tuple struct {
	ActorID    int64      `json:"actor_id"`
	TargetType TargetType `json:"target_type"`
	TargetID   int64      `json:"target_id"`
	HandlerKey string     `json:"handler_key"`
}

func (t Tuple) String() string {
	return fmt.Sprintf("%d|%s|%d|%s", t.ActorID, t.TargetType, t.TargetID, t.HandlerKey)
}

// Normalize trims the handler key. Callers validate after normalizing.
func (t Tuple) Normalize() Tuple {
	t.HandlerKey = strings.TrimSpace(t.HandlerKey)
	return t
}

func (t Tuple) Validate() error {
	var errs []error
	if t.ActorID == 0 {
		errs = append(errs, errors.New("actor id is required"))
	}
	if !t.TargetType.Valid() {
		errs = append(errs, fmt.Errorf("invalid target type %q", t.TargetType))
	}
	if t.TargetID == 0 {
		errs = append(errs, errors.New("target id is required"))
	}
	if strings.TrimSpace(t.HandlerKey) == "" {
		errs = append(errs, errors.New("handler key is required"))
	}
	return errors.Join(errs...)
}

// TaskDefinition is the persisted scheduling intent for one tuple.
//
// Exactly one of CronExpression / RunAt is set: cron for recurring pushes,
// RunAt for one-shot pushes.
type TaskDefinition struct {
	ID int64 `json:"id"`
	Tuple

	Parameter      json.RawMessage `json:"parameter,omitempty"`
	CronExpression string          `json:"cron_expression,omitempty"`
	RunAt          time.Time       `json:"run_at,omitempty"`
	Enabled        bool            `json:"enabled"`
	Description    string          `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d TaskDefinition) OneShot() bool { return strings.TrimSpace(d.CronExpression) == "" && !d.RunAt.IsZero() }

// Trigger is the payload the job engine hands back to the bridge when a job fires.
type Trigger struct {
	Tuple
	Parameter json.RawMessage `json:"parameter,omitempty"`
}

// EventKind mirrors the "a message arrived" shape handlers are written against.
type EventKind string

const (
	EventGroupMessage   EventKind = "group_message"
	EventPrivateMessage EventKind = "private_message"
)

// Event is the synthetic stand-in for an incoming message, built at fire time.
// It carries only the actor and the conversation; there is no real message.
type Event struct {
	Kind     EventKind
	ActorID  int64
	ChatID   int64
	SenderID int64 // private peer id; 0 for groups
}

func syntheticEvent(t Tuple) Event {
	if t.TargetType == TargetPrivate {
		return Event{Kind: EventPrivateMessage, ActorID: t.ActorID, ChatID: t.TargetID, SenderID: t.TargetID}
	}
	return Event{Kind: EventGroupMessage, ActorID: t.ActorID, ChatID: t.TargetID}
}
