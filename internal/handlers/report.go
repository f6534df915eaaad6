package handlers

import (
	"context"
	"strings"

	"pushbot/internal/push"
	"pushbot/pkg/tgui"
)

// ReportParam is optional; an absent parameter sends the default title.
type ReportParam struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// ReportConfig comes from handlers.DAILY_REPORT in the config file.
type ReportConfig struct {
	Header string `json:"header"`
	Footer string `json:"footer"`
}

func dailyReport(deps Deps) push.HandlerWithConfigFunc[ReportParam, ReportConfig] {
	return func(ctx context.Context, ec *push.ExecutionContext, p ReportParam, cfg ReportConfig) error {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			title = "Daily report"
		}
		now := deps.Now().In(deps.Location())

		parts := []tgui.H{
			tgui.B("📋 " + title + " | " + now.Format("Mon 2006-01-02")),
			tgui.Esc(cfg.Header),
		}
		for _, l := range p.Lines {
			if l = strings.TrimSpace(l); l != "" {
				parts = append(parts, "• "+tgui.Esc(l))
			}
		}
		if f := strings.TrimSpace(cfg.Footer); f != "" {
			parts = append(parts, tgui.I(f))
		}
		return ec.Reply(ctx, tgui.Lines(parts...).String())
	}
}
