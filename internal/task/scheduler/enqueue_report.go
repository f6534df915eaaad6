package scheduler

import (
	"errors"
	"time"

	"pushbot/internal/task/engine"
	logx "pushbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(jobID string, err error) {
	if err == nil {
		return
	}
	// The previous firing of this job is still queued or running.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped; previous firing in flight", logx.String("job", jobID))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[jobID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[jobID] = now
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to enqueue", logx.String("job", jobID), logx.Err(err))
}
