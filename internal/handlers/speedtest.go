package handlers

import (
	"context"
	"fmt"
	"time"

	"pushbot/internal/push"
	"pushbot/pkg/speedtest"
	"pushbot/pkg/tgui"
)

// SpeedtestParam overrides the configured server count for one schedule.
type SpeedtestParam struct {
	ServerCount int `json:"server_count"`
}

// SpeedtestConfig comes from handlers.SPEEDTEST in the config file.
type SpeedtestConfig struct {
	ServerCount     int  `json:"server_count"`
	FullTestServers int  `json:"full_test_servers"`
	MaxConnections  int  `json:"max_connections"`
	SavingMode      bool `json:"saving_mode"`
	PacketLoss      bool `json:"packet_loss"`
}

type speedtestHandler struct {
	deps Deps
	// sem keeps one test on the link at a time across schedules.
	sem chan struct{}
}

func (h *speedtestHandler) run(ctx context.Context, ec *push.ExecutionContext, p SpeedtestParam, cfg SpeedtestConfig) error {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-h.sem }()

	rc := speedtest.Config{
		ServerCount:     cfg.ServerCount,
		FullTestServers: cfg.FullTestServers,
		MaxConnections:  cfg.MaxConnections,
		SavingMode:      cfg.SavingMode,
		PacketLoss:      cfg.PacketLoss,
	}
	if p.ServerCount > 0 {
		rc.ServerCount = p.ServerCount
	}
	res, err := h.deps.Speedtest(rc).Run(ctx)
	if err != nil {
		return fmt.Errorf("speedtest: %w", err)
	}
	return ec.Reply(ctx, formatSpeedtest(res).String())
}

func formatSpeedtest(r *speedtest.Result) tgui.H {
	lines := []tgui.H{
		tgui.B("🚀 Speedtest"),
		tgui.Esc(fmt.Sprintf("⬇️ Download: %.2f Mbps", r.DownloadMbps)),
		tgui.Esc(fmt.Sprintf("⬆️ Upload: %.2f Mbps", r.UploadMbps)),
		tgui.Esc(fmt.Sprintf("📡 Ping: %.0f ms (jitter %.1f ms)", r.PingMs, r.JitterMs)),
	}
	if r.PacketLoss > 0 {
		lines = append(lines, tgui.Esc(fmt.Sprintf("📦 Packet loss: %.2f%%", r.PacketLoss)))
	}
	lines = append(lines,
		tgui.Esc("🏢 "+r.ISP),
		tgui.I(fmt.Sprintf("via %s (%s), %d server(s), %s", r.ServerName, r.ServerCountry, r.Servers, r.Duration.Round(100*time.Millisecond))),
	)
	return tgui.Lines(lines...)
}
