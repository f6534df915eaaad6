package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"pushbot/internal/task/engine"
	"pushbot/pkg/tgui"
)

// SendText sends HTML text to chatID, split into message-sized chunks and
// throttled by the per-bot limiter. Flood-wait replies carry their retry
// delay; unreachable chats are marked permanent.
func (a *Actor) SendText(ctx context.Context, chatID int64, text string) error {
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range tgui.SplitText(text, tgui.MaxMessageRunes, true) {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := a.send.Send(chat, chunk, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
		if err != nil {
			return classifySendError(fmt.Errorf("telegram: send chunk %d to %d: %w", i+1, chatID, err))
		}
	}
	return nil
}

func classifySendError(err error) error {
	var flood tele.FloodError
	switch {
	case errors.As(err, &flood):
		return engine.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup):
		return engine.NoRetry(err)
	default:
		return err
	}
}
