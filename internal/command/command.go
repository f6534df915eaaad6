// Package command implements the /push chat commands. A command always
// applies to the chat it was sent in, acting as the bot that received it.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"pushbot/internal/push"
	"pushbot/internal/task/scheduler"
	logx "pushbot/pkg/logx"
	"pushbot/pkg/tgui"
)

// Input is one command message.
type Input struct {
	ActorID    int64
	ChatID     int64
	TargetType push.TargetType
	FromID     int64
	Text       string
}

func (in Input) tuple(key string) push.Tuple {
	return push.Tuple{ActorID: in.ActorID, TargetType: in.TargetType, TargetID: in.ChatID, HandlerKey: strings.ToUpper(strings.TrimSpace(key))}
}

// Schedules is the facade surface the commands drive.
type Schedules interface {
	Schedule(ctx context.Context, req push.ScheduleRequest) (push.TaskDefinition, error)
	Unschedule(ctx context.Context, t push.Tuple) (bool, error)
	SetEnabled(ctx context.Context, t push.Tuple, enabled bool) (push.TaskDefinition, error)
	Status(ctx context.Context, t push.Tuple) (push.Status, bool, error)
	List(ctx context.Context, actorID int64, targetType push.TargetType, targetID int64) ([]push.Status, error)
}

// Catalog lists registered handlers.
type Catalog interface {
	List() []push.HandlerInfo
}

type Option func(*Handler)

// WithOwners installs the check for mutating commands. Without it every
// mutation is refused.
func WithOwners(isOwner func(userID int64) bool) Option {
	return func(h *Handler) { h.isOwner = isOwner }
}

// WithLocation supplies the zone wall-clock schedules are read in.
func WithLocation(loc func() *time.Location) Option {
	return func(h *Handler) { h.loc = loc }
}

func WithLogger(log logx.Logger) Option { return func(h *Handler) { h.log = log } }

type Handler struct {
	schedules Schedules
	catalog   Catalog
	isOwner   func(int64) bool
	loc       func() *time.Location
	now       func() time.Time
	log       logx.Logger
}

func New(s Schedules, c Catalog, opts ...Option) *Handler {
	h := &Handler{
		schedules: s,
		catalog:   c,
		isOwner:   func(int64) bool { return false },
		loc:       func() *time.Location { return time.Local },
		now:       time.Now,
		log:       logx.Nop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

const usage = `<b>/push</b> commands
<code>/push add KEY SCHEDULE [PARAM]</code>
<code>/push del KEY</code>
<code>/push on KEY</code> | <code>/push off KEY</code>
<code>/push list</code>
<code>/push handlers</code>

SCHEDULE: cron ("0 9 * * 1-5", "@daily"), "HH:MM" daily, a duration ("90m"), "@at 2026-01-02 09:00" or "@in 10m".
PARAM: JSON starting with {, [ or ".`

var errUsage = errors.New("usage")

// Handle runs one command and returns the HTML reply. User mistakes are
// answered in the reply; a non-nil error means the reply reports an
// internal failure.
func (h *Handler) Handle(ctx context.Context, in Input) (string, error) {
	sub, rest := splitCommand(in.Text)
	log := h.log.With(logx.String("sub", sub), logx.Int64("chat", in.ChatID), logx.Int64("from", in.FromID))

	var (
		reply string
		err   error
	)
	switch sub {
	case "", "help":
		return usage, nil
	case "list":
		reply, err = h.list(ctx, in)
	case "handlers":
		reply = h.handlers(in)
	case "add", "del", "on", "off":
		if !h.isOwner(in.FromID) {
			log.Info("push command refused: not an owner")
			return "⛔ Only bot owners can change schedules.", nil
		}
		ctx = push.WithRequester(ctx, in.FromID)
		switch sub {
		case "add":
			reply, err = h.add(ctx, in, rest)
		case "del":
			reply, err = h.del(ctx, in, rest)
		default:
			reply, err = h.setEnabled(ctx, in, rest, sub == "on")
		}
	default:
		return fmt.Sprintf("Unknown subcommand %s.\n\n%s", tgui.Code(sub), usage), nil
	}

	if err == nil {
		return reply, nil
	}
	if errors.Is(err, errUsage) {
		return usage, nil
	}
	if msg, ok := userError(err); ok {
		log.Debug("push command rejected", logx.Err(err))
		return "⚠️ " + msg, nil
	}
	log.Warn("push command failed", logx.Err(err))
	return "⚠️ Internal error, see logs.", err
}

func (h *Handler) add(ctx context.Context, in Input, rest string) (string, error) {
	key, rest := cutToken(rest)
	if key == "" || rest == "" {
		return "", errUsage
	}
	rawSched, rawParam := splitParam(rest)
	spec, err := scheduler.ParseSchedule(rawSched, h.now().In(h.loc()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", push.ErrInvalidSchedule, err)
	}

	req := push.ScheduleRequest{Tuple: in.tuple(key), Cron: spec.Cron, RunAt: spec.At}
	if rawParam != "" {
		req.Parameter = json.RawMessage(rawParam)
	}
	def, err := h.schedules.Schedule(ctx, req)
	if err != nil {
		return "", err
	}

	lines := []tgui.H{
		"✅ Scheduled " + tgui.Code(def.HandlerKey),
		"schedule: " + tgui.Code(spec.String()),
	}
	if st, ok, err := h.schedules.Status(ctx, def.Tuple); err == nil && ok && !st.Next.IsZero() {
		lines = append(lines, "next: "+tgui.Code(formatTime(st.Next, h.loc())))
	}
	if len(def.Parameter) > 0 {
		lines = append(lines, "param: "+tgui.Code(tgui.TruncRunes(string(def.Parameter), 200)))
	}
	return tgui.Lines(lines...).String(), nil
}

func (h *Handler) del(ctx context.Context, in Input, rest string) (string, error) {
	key, _ := cutToken(rest)
	if key == "" {
		return "", errUsage
	}
	t := in.tuple(key)
	existed, err := h.schedules.Unschedule(ctx, t)
	if err != nil {
		return "", err
	}
	if !existed {
		return "Nothing scheduled for " + tgui.Code(t.HandlerKey).String() + " here.", nil
	}
	return "🗑 Removed " + tgui.Code(t.HandlerKey).String(), nil
}

func (h *Handler) setEnabled(ctx context.Context, in Input, rest string, enabled bool) (string, error) {
	key, _ := cutToken(rest)
	if key == "" {
		return "", errUsage
	}
	def, err := h.schedules.SetEnabled(ctx, in.tuple(key), enabled)
	if err != nil {
		return "", err
	}
	if enabled {
		return "▶️ Enabled " + tgui.Code(def.HandlerKey).String(), nil
	}
	return "⏸ Disabled " + tgui.Code(def.HandlerKey).String(), nil
}

func (h *Handler) list(ctx context.Context, in Input) (string, error) {
	sts, err := h.schedules.List(ctx, in.ActorID, in.TargetType, in.ChatID)
	if err != nil {
		return "", err
	}
	if len(sts) == 0 {
		return "No pushes scheduled in this chat.", nil
	}
	loc := h.loc()
	lines := []tgui.H{tgui.B(fmt.Sprintf("Scheduled pushes (%d)", len(sts)))}
	for _, st := range sts {
		d := st.Definition
		state := "on"
		if !d.Enabled {
			state = "off"
		}
		sched := d.CronExpression
		if d.OneShot() {
			sched = "@at " + formatTime(d.RunAt, loc)
		}
		line := "• " + tgui.Code(d.HandlerKey) + " " + tgui.Esc(sched) + " [" + tgui.Esc(state) + "]"
		if !st.Next.IsZero() {
			line += " next " + tgui.Esc(formatTime(st.Next, loc))
		}
		lines = append(lines, line)
	}
	return tgui.Lines(lines...).String(), nil
}

func (h *Handler) handlers(in Input) string {
	infos := h.catalog.List()
	lines := []tgui.H{tgui.B("Handlers")}
	for _, hi := range infos {
		allowed := false
		for _, t := range hi.AllowedTargets {
			allowed = allowed || t == in.TargetType
		}
		if !allowed {
			continue
		}
		line := "• " + tgui.Code(hi.Key)
		if hi.Description != "" {
			line += " " + tgui.Esc(hi.Description)
		}
		line += " " + tgui.I("param: "+hi.ParamType)
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return "No handlers available for this chat type."
	}
	return tgui.Lines(lines...).String()
}

// userError maps errors caused by the request itself to a reply line.
func userError(err error) (string, bool) {
	var (
		nf *push.HandlerNotFoundError
		pe *push.ParamError
	)
	switch {
	case errors.As(err, &nf):
		return "Unknown handler " + tgui.Code(nf.Key).String() + ". Try /push handlers.", true
	case errors.As(err, &pe):
		return tgui.Esc(pe.Error()).String(), true
	case errors.Is(err, push.ErrNotFound):
		return "Nothing scheduled under that key here.", true
	case errors.Is(err, push.ErrInvalidSchedule), errors.Is(err, push.ErrTargetNotAllowed):
		return tgui.Esc(err.Error()).String(), true
	default:
		return "", false
	}
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04 MST")
}

// splitCommand drops the leading "/push" (or "/push@bot") and returns the
// lowercased subcommand and the untouched remainder.
func splitCommand(text string) (sub, rest string) {
	_, rest = cutToken(text)
	sub, rest = cutToken(rest)
	return strings.ToLower(sub), rest
}

func cutToken(s string) (tok, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// splitParam separates the schedule from a JSON parameter, which starts at
// the first token opening with '{', '[' or '"'.
func splitParam(s string) (sched, param string) {
	for i := 0; i < len(s); i++ {
		if i > 0 && !unicode.IsSpace(rune(s[i-1])) {
			continue
		}
		if strings.IndexByte(`{["`, s[i]) >= 0 {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i:])
		}
	}
	return strings.TrimSpace(s), ""
}
