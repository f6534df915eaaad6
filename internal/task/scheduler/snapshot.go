package scheduler

import "sort"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	tz := s.cfg.Timezone
	if tz == "" && s.loc != nil {
		tz = s.loc.String()
	}
	out := Snapshot{Running: s.c != nil, Timezone: tz}
	out.Triggers = make([]TriggerInfo, 0, len(s.triggers))
	for _, tr := range s.triggers {
		next, prev := s.nextLocked(tr)
		out.Triggers = append(out.Triggers, TriggerInfo{
			JobID:         tr.jobID,
			Spec:          tr.spec(),
			OneShot:       tr.cron == "",
			Next:          next,
			Prev:          prev,
			StartupSpread: tr.startupSpread,
		})
	}
	eng := s.engine
	s.mu.Unlock()

	sort.Slice(out.Triggers, func(i, j int) bool { return out.Triggers[i].JobID < out.Triggers[j].JobID })
	if eng != nil {
		out.Engine = eng.Snapshot()
	}
	return out
}
