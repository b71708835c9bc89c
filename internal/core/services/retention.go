package services

import (
	"context"
	"log/slog"
	"time"
)

const maxSweepInterval = time.Minute

// RetentionSweeper periodically cleans up jobs that have been terminal for
// longer than the TTL.
type RetentionSweeper struct {
	logger *slog.Logger
	orch   *Orchestrator
	ttl    time.Duration
	tick   time.Duration
	now    func() time.Time
}

func NewRetentionSweeper(logger *slog.Logger, orch *Orchestrator, ttl time.Duration) *RetentionSweeper {
	tick := min(max(ttl/2, time.Second), maxSweepInterval)
	return &RetentionSweeper{
		logger: logger,
		orch:   orch,
		ttl:    ttl,
		tick:   tick,
		now:    time.Now,
	}
}

// Run starts the sweep loop. Blocks until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	s.logger.Info("retention sweeper started", "ttl", s.ttl, "check_interval", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep removes every job that reached a terminal state before now-ttl and
// returns how many were removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) int {
	expired := s.orch.store.terminalBefore(s.now().Add(-s.ttl))
	removed := 0
	for _, id := range expired {
		if s.orch.Cleanup(ctx, id) {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired jobs removed", "count", removed)
	}
	return removed
}
