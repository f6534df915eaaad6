package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SpecKind is the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecOnce
)

// ParsedSpec is a schedule string reduced to a cron expression or a run-at time.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 30 9 * * 1-5", "@daily", "@every 55m"
//   - Daily at HH:MM: "09:30" (becomes "0 30 9 * * *")
//   - Interval duration: "55m", "2h30m" (becomes "@every ...")
//   - One-shot: "@at 2026-01-02T09:00:00+07:00", "@at 2026-01-02 09:00", "@in 10m"
//
// Optional prefixes "cron:", "every:", "at:" and "in:" force the kind.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	At     time.Time
	Source string // "cron" | "hhmm" | "duration" | "at" | "in"
}

// Schedule converts p for RegisterTrigger.
func (p ParsedSpec) Schedule() Schedule {
	if p.Kind == SpecOnce {
		return Schedule{At: p.At}
	}
	return Schedule{Cron: p.Cron}
}

func (p ParsedSpec) String() string {
	if p.Kind == SpecOnce {
		return "@at " + p.At.Format(time.RFC3339)
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

var atLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseSchedule parses raw relative to now. Wall-clock forms use now's location.
func ParseSchedule(raw string, now time.Time) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecCron, Cron: "@every " + d.String(), Source: "duration"}, nil
	case strings.HasPrefix(low, "at:"):
		return parseAt(strings.TrimSpace(s[len("at:"):]), now)
	case strings.HasPrefix(low, "@at "):
		return parseAt(strings.TrimSpace(s[len("@at "):]), now)
	case strings.HasPrefix(low, "in:"):
		return parseIn(strings.TrimSpace(s[len("in:"):]), now)
	case strings.HasPrefix(low, "@in "):
		return parseIn(strings.TrimSpace(s[len("@in "):]), now)
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h > 23 || mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid time of day %q", s)
		}
		return ParsedSpec{Kind: SpecCron, Cron: fmt.Sprintf("0 %d %d * * *", mm, h), Source: "hhmm"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecCron, Cron: "@every " + d.String(), Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 9 * * *', HH:MM like '09:30', a duration like '55m', or '@at 2026-01-02 09:00')",
		raw,
	)
}

func parseCron(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron expression required")
	}
	if _, err := NewParser().Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a Go duration like '55m' or '2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseAt(v string, now time.Time) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("run-at time required")
	}
	loc := now.Location()
	for _, layout := range atLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return ParsedSpec{Kind: SpecOnce, At: t, Source: "at"}, nil
		}
	}
	return ParsedSpec{}, fmt.Errorf("invalid run-at time %q (use RFC3339 or 'YYYY-MM-DD HH:MM')", v)
}

func parseIn(v string, now time.Time) (ParsedSpec, error) {
	d, err := parseInterval(v)
	if err != nil {
		return ParsedSpec{}, err
	}
	return ParsedSpec{Kind: SpecOnce, At: now.Add(d), Source: "in"}, nil
}
