package app

import (
	"context"
	"time"

	"pushbot/internal/actor/telegram"
	"pushbot/internal/command"
	"pushbot/internal/push"
	"pushbot/internal/task/engine"
	"pushbot/internal/task/scheduler"
	logx "pushbot/pkg/logx"
)

// triggerEngine exposes the scheduler to the push facade.
type triggerEngine struct {
	s *scheduler.Service
}

func (t triggerEngine) RegisterTrigger(ctx context.Context, jobID string, s push.Schedule, payload []byte) error {
	return t.s.RegisterTrigger(ctx, jobID, scheduler.Schedule{Cron: s.Cron, At: s.At}, payload)
}

func (t triggerEngine) DeregisterTrigger(ctx context.Context, jobID string) (bool, error) {
	return t.s.DeregisterTrigger(ctx, jobID)
}

func (t triggerEngine) Next(jobID string) (next, prev time.Time, ok bool) {
	return t.s.Next(jobID)
}

func (t triggerEngine) JobIDs() []string { return t.s.JobIDs() }

// fireFunc runs a firing through the bridge. Errors the engine should not
// retry are marked so.
func fireFunc(b *push.Bridge) scheduler.FireFunc {
	return func(ctx context.Context, jobID string, payload []byte) error {
		tr, err := push.DecodeTrigger(payload)
		if err != nil {
			return engine.NoRetry(err)
		}
		if err := b.Fire(ctx, tr); err != nil {
			if push.IsRetryable(err) {
				return err
			}
			return engine.NoRetry(err)
		}
		return nil
	}
}

// Actor is a bot account the app starts and stops.
type Actor interface {
	push.Actor
	Name() string
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

// ActorSpec is what the app hands an ActorFactory for one configured bot.
type ActorSpec struct {
	Config   telegram.Config
	Commands telegram.CommandFunc
	Status   telegram.StatusFunc
}

type ActorFactory func(spec ActorSpec, log logx.Logger) (Actor, error)

func newTelegramActor(spec ActorSpec, log logx.Logger) (Actor, error) {
	return telegram.New(spec.Config, log,
		telegram.WithCommands(spec.Commands),
		telegram.WithStatus(spec.Status),
	)
}

// commandFunc adapts the /push handler to the telegram actor callback.
func commandFunc(h *command.Handler) telegram.CommandFunc {
	return func(ctx context.Context, m telegram.Message) (string, error) {
		return h.Handle(ctx, command.Input{
			ActorID:    m.ActorID,
			ChatID:     m.ChatID,
			TargetType: m.TargetType,
			FromID:     m.FromID,
			Text:       m.Text,
		})
	}
}
