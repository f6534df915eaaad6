package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "pushbot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// log fields describing the new values. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if len(ot.EffectiveBots()) != len(nt.EffectiveBots()) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.ProbeInterval != nt.ProbeInterval || ot.PollTimeout != nt.PollTimeout ||
		ot.SendRatePerSec != nt.SendRatePerSec || ot.SendBurst != nt.SendBurst {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.bots", len(nt.EffectiveBots())),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		// Storage is bound at startup.
		changed = append(changed, "storage")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
	}
	if keys := diffHandlers(oldCfg.Handlers, newCfg.Handlers); len(keys) > 0 {
		changed = append(changed, "handlers")
		attrs = append(attrs, logx.String("handlers.changed", strings.Join(keys, ",")))
	}
	sort.Strings(changed)
	return changed, attrs
}

func diffHandlers(oldM, newM map[string]json.RawMessage) []string {
	var out []string
	for k, v := range newM {
		if !bytes.Equal(bytes.TrimSpace(oldM[k]), bytes.TrimSpace(v)) {
			out = append(out, k)
		}
	}
	for k := range oldM {
		if _, ok := newM[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
