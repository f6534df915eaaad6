package handlers

import (
	"context"
	"strings"

	"pushbot/internal/push"
	"pushbot/pkg/tgui"
)

func reminder(ctx context.Context, ec *push.ExecutionContext, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "Reminder"
	}
	return ec.Reply(ctx, "⏰ "+tgui.Esc(text).String())
}
