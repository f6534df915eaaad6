// Package telegram connects one Telegram bot account as a push actor.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pushbot/internal/push"
	rtsup "pushbot/internal/runtime/supervisor"
	logx "pushbot/pkg/logx"
)

const (
	defaultPollTimeout   = 10 * time.Second
	defaultProbeInterval = 30 * time.Second
	commandTimeout       = 15 * time.Second
	stopGrace            = 2 * time.Second
)

type Config struct {
	Name          string
	Token         string
	PollTimeout   time.Duration
	ProbeInterval time.Duration
	RatePerSec    float64
	Burst         int
}

// Message is an incoming command addressed to the bot.
type Message struct {
	ActorID    int64
	ChatID     int64
	TargetType push.TargetType
	FromID     int64
	Text       string
}

// CommandFunc answers a command. The reply is HTML and is sent even when
// err is set; empty means no reply.
type CommandFunc func(ctx context.Context, m Message) (string, error)

// StatusFunc receives every probe result.
type StatusFunc func(actorID int64, online bool, err error)

type Option func(*Actor)

func WithCommands(fn CommandFunc) Option { return func(a *Actor) { a.onCommand = fn } }
func WithStatus(fn StatusFunc) Option    { return func(a *Actor) { a.onStatus = fn } }

type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Actor implements push.Actor on top of telebot.
type Actor struct {
	cfg     Config
	id      int64
	log     logx.Logger
	bot     *tele.Bot
	send    sender
	probe   func(ctx context.Context) error
	limiter *rate.Limiter

	onCommand CommandFunc
	onStatus  StatusFunc

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

// BotIDFromToken returns the bot's user id, the numeric prefix of its token.
func BotIDFromToken(token string) (int64, error) {
	head, _, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok {
		return 0, errors.New("telegram: malformed token")
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("telegram: malformed token")
	}
	return id, nil
}

// New builds the actor without touching the network; the first probe runs
// on Start.
func New(cfg Config, log logx.Logger, opts ...Option) (*Actor, error) {
	id, err := BotIDFromToken(cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(cfg.RatePerSec), 1)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"), logx.Int64("actor", id), logx.String("bot", cfg.Name))

	b, err := tele.NewBot(tele.Settings{
		Token:     cfg.Token,
		Poller:    &tele.LongPoller{Timeout: cfg.PollTimeout},
		ParseMode: tele.ModeHTML,
		Offline:   true,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	a := &Actor{
		cfg:     cfg,
		id:      id,
		log:     log,
		bot:     b,
		send:    b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
	a.probe = func(context.Context) error {
		_, err := b.Raw("getMe", nil)
		return err
	}
	for _, o := range opts {
		o(a)
	}
	b.Handle("/push", a.handleCommand)
	return a, nil
}

func (a *Actor) ID() int64    { return a.id }
func (a *Actor) Name() string { return a.cfg.Name }

// Supervisor returns the actor's goroutine owner, or nil when stopped.
func (a *Actor) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Start launches the probe loop and, when commands are wired, long polling.
func (a *Actor) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return
	}
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	a.sup.GoRestart("probe", a.probeLoop, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	if a.onCommand != nil {
		a.sup.GoRestart("poll", a.pollLoop,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
}

// Stop ends polling and probing. Long polls are abandoned after a short grace.
func (a *Actor) Stop(ctx context.Context) {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.runMu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	a.report(false, errors.New("stopped"))
}

func (a *Actor) probeLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.ProbeInterval)
	defer t.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, a.cfg.PollTimeout)
		err := a.probe(pctx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		a.report(err == nil, err)

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (a *Actor) report(online bool, err error) {
	if a.onStatus != nil {
		a.onStatus(a.id, online, err)
	}
}

func (a *Actor) pollLoop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.log.Info("polling started")
		a.bot.Start()
	}()
	select {
	case <-done:
		return errors.New("telegram: poller exited")
	case <-ctx.Done():
	}
	select {
	case <-done:
		return nil
	default:
	}
	// Stop blocks until the poller acknowledges.
	go a.bot.Stop()
	t := time.NewTimer(stopGrace)
	defer t.Stop()
	select {
	case <-done:
		a.log.Info("polling stopped")
	case <-t.C:
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

func (a *Actor) handleCommand(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil || a.onCommand == nil {
		return nil
	}
	tt, ok := targetOf(m.Chat)
	if !ok {
		return nil
	}
	parent := context.Background()
	if sup := a.Supervisor(); sup != nil {
		parent = sup.Context()
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	reply, err := a.onCommand(ctx, Message{
		ActorID:    a.id,
		ChatID:     m.Chat.ID,
		TargetType: tt,
		FromID:     m.Sender.ID,
		Text:       m.Text,
	})
	if err != nil {
		a.log.Warn("command failed", logx.Int64("chat", m.Chat.ID), logx.Err(err))
	}
	if strings.TrimSpace(reply) == "" {
		return err
	}
	return errors.Join(err, a.SendText(ctx, m.Chat.ID, reply))
}

func targetOf(c *tele.Chat) (push.TargetType, bool) {
	switch c.Type {
	case tele.ChatPrivate:
		return push.TargetPrivate, true
	case tele.ChatGroup, tele.ChatSuperGroup:
		return push.TargetGroup, true
	default:
		return "", false
	}
}
