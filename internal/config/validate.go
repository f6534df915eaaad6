package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate reports every problem in cfg at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if len(c.Telegram.EffectiveBots()) == 0 {
		add(fmt.Errorf("telegram: at least one bot token is required (telegram.token, telegram.bots or %s)", EnvTelegramToken))
	}
	if c.Telegram.SendRatePerSec < 0 {
		add(errors.New("telegram.send_rate_per_sec: must be >= 0"))
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	dur("telegram.probe_interval", c.Telegram.ProbeInterval)

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory", "mem":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path: required when storage.driver=sqlite"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.task_timeout", c.Scheduler.TaskTimeout)

	if te := c.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			add(errors.New("task_engine: workers, queue_size and history_size must be >= 0"))
		}
		if te.RetryMax != nil && *te.RetryMax < 0 {
			add(errors.New("task_engine.retry_max: must be >= 0"))
		}
		dur("task_engine.retry_base", te.RetryBase)
		dur("task_engine.retry_max_delay", te.RetryMaxDelay)
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
	}
	dur("admin.read_timeout", c.Admin.ReadTimeout)
	if addr := strings.TrimSpace(c.Admin.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		}
	}

	for key := range c.Handlers {
		if strings.TrimSpace(key) != key || key == "" {
			add(fmt.Errorf("handlers: key %q must be non-empty without surrounding spaces", key))
		}
	}
	return errors.Join(errs...)
}
