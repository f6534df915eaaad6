package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pushbot/internal/eventbus"
	"pushbot/internal/storage"
	"pushbot/internal/task/engine"
	logx "pushbot/pkg/logx"
)

// NewParser accepts both 5-field and 6-field (with seconds) cron specs plus
// descriptors like @daily and @every 1h.
func NewParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func New(cfg Config, eng *engine.Service, store storage.TriggerStore, onFire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		engine:      eng,
		store:       store,
		onFire:      onFire,
		parser:      NewParser(),
		triggers:    map[string]*trigger{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.taskTimeout.Store(int64(cfg.TaskTimeout))
	return s
}

// Running reports whether triggers are currently armed.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Apply swaps the config. A timezone change re-arms every trigger.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	s.taskTimeout.Store(int64(cfg.TaskTimeout))

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start loads persisted triggers and arms them. One-shot triggers whose time
// passed while the process was down fire right away.
func (s *Service) Start(ctx context.Context) error {
	if s.onFire == nil {
		return errors.New("scheduler: no fire callback")
	}
	var recs []storage.TriggerRecord
	if s.store != nil {
		var err error
		recs, err = s.store.LoadTriggers(ctx)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	for _, r := range recs {
		if _, ok := s.triggers[r.JobID]; ok {
			continue
		}
		if strings.TrimSpace(r.Cron) != "" {
			if _, err := s.parser.Parse(r.Cron); err != nil {
				s.log.Warn("persisted trigger has invalid cron; skipped", logx.String("job", r.JobID), logx.String("spec", r.Cron), logx.Err(err))
				continue
			}
		}
		s.triggers[r.JobID] = &trigger{jobID: r.JobID, cron: r.Cron, at: r.At, payload: r.Payload, state: &engine.RunState{}}
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, tr := range s.triggers {
		if err := s.armLocked(tr); err != nil {
			s.log.Error("trigger arm failed", logx.String("job", tr.jobID), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("triggers", len(s.triggers)))
	return nil
}

// Stop disarms every trigger. Persisted triggers resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, tr := range s.triggers {
		s.disarmLocked(tr, nil)
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		for _, tr := range s.triggers {
			s.disarmLocked(tr, s.c)
		}
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, tr := range s.triggers {
		_ = s.armLocked(tr)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("triggers", len(s.triggers)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
