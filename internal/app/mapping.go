package app

import (
	"strings"
	"time"

	"pushbot/internal/actor/telegram"
	"pushbot/internal/admin"
	"pushbot/internal/config"
	"pushbot/internal/storage"
	"pushbot/internal/task/engine"
	"pushbot/internal/task/scheduler"
	logx "pushbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	f := cfg.Logging.File
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

// mapStorageConfig defaults to the memory driver when the section is absent.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		AuditKeep:   sc.AuditKeep,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     256,
		HistorySize:   200,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 15 * time.Second,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax != nil {
		out.RetryMax = *te.RetryMax
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("task_engine.retry_base", te.RetryBase, out.RetryBase); err != nil {
		return engine.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("task_engine.retry_max_delay", te.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return engine.Config{}, err
	}
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.task_timeout", cfg.Scheduler.TaskTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		TaskTimeout: timeout,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	rt, err := config.ParseDurationField("admin.read_timeout", cfg.Admin.ReadTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Addr:          strings.TrimSpace(cfg.Admin.Addr),
		ReadTimeout:   rt,
		Token:         cfg.Admin.Token,
		AllowInsecure: cfg.Admin.AllowInsecure,
		Pprof:         cfg.Admin.Pprof,
	}, nil
}

func mapBotConfigs(cfg *config.Config) ([]telegram.Config, error) {
	poll, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	probe, err := config.ParseDurationField("telegram.probe_interval", cfg.Telegram.ProbeInterval)
	if err != nil {
		return nil, err
	}
	bots := cfg.Telegram.EffectiveBots()
	out := make([]telegram.Config, 0, len(bots))
	for _, b := range bots {
		out = append(out, telegram.Config{
			Name:          b.Name,
			Token:         b.Token,
			PollTimeout:   poll,
			ProbeInterval: probe,
			RatePerSec:    cfg.Telegram.SendRatePerSec,
			Burst:         cfg.Telegram.SendBurst,
		})
	}
	return out, nil
}

// loadLocation mirrors the scheduler's fallback to Local.
func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
