// Package handlers holds the push handlers compiled into the bot.
package handlers

import (
	"context"
	"time"

	"pushbot/internal/push"
	"pushbot/pkg/speedtest"
)

const (
	KeyDailyReport = "DAILY_REPORT"
	KeyReminder    = "REMINDER"
	KeySpeedtest   = "SPEEDTEST"
)

// SpeedRunner runs one speedtest.
type SpeedRunner interface {
	Run(ctx context.Context) (*speedtest.Result, error)
}

// Deps are the collaborators handlers read at fire time.
type Deps struct {
	// Location is the zone reports are dated in.
	Location func() *time.Location
	Now      func() time.Time
	// Speedtest builds a runner for one SPEEDTEST firing.
	Speedtest func(cfg speedtest.Config) SpeedRunner
}

func (d Deps) withDefaults() Deps {
	if d.Location == nil {
		d.Location = func() *time.Location { return time.Local }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Speedtest == nil {
		d.Speedtest = func(cfg speedtest.Config) SpeedRunner { return speedtest.NewRunner(cfg) }
	}
	return d
}

// Register adds every built-in handler to reg.
func Register(reg *push.Registry, deps Deps) {
	deps = deps.withDefaults()

	push.RegisterWithConfig[ReportParam, ReportConfig](reg, KeyDailyReport, dailyReport(deps),
		push.WithDisplayName("Daily report"),
		push.WithDescription("Posts a dated report with optional lines"),
	)
	push.Register[string](reg, KeyReminder, reminder,
		push.WithDisplayName("Reminder"),
		push.WithDescription("Posts the parameter text"),
	)
	st := &speedtestHandler{deps: deps, sem: make(chan struct{}, 1)}
	push.RegisterWithConfig[SpeedtestParam, SpeedtestConfig](reg, KeySpeedtest, st.run,
		push.WithDisplayName("Speedtest"),
		push.WithDescription("Measures the host's link and posts the result"),
		push.AllowedTargets(push.TargetGroup),
	)
}
