package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// errLaunchSkipped is returned by a launch func that found nothing to start.
var errLaunchSkipped = errors.New("launch skipped")

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	// MaxConcurrentWorkers caps live workers. Zero or less means no cap.
	MaxConcurrentWorkers int64
}

// LaunchFunc starts the worker for one job. A nil error means a slot is now
// held until Done is called for the job.
type LaunchFunc func(ctx context.Context) error

// JobScheduler admits worker launches. Without a cap every launch runs inline;
// with a cap, launches that find no free slot wait in the background so the
// caller is never blocked.
type JobScheduler struct {
	logger    *slog.Logger
	semaphore *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	holding map[domain.JobID]bool
	waiting map[domain.JobID]context.CancelFunc
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &JobScheduler{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		holding: make(map[domain.JobID]bool),
		waiting: make(map[domain.JobID]context.CancelFunc),
	}
	if cfg.MaxConcurrentWorkers > 0 {
		s.semaphore = semaphore.NewWeighted(cfg.MaxConcurrentWorkers)
	}
	return s
}

// Schedule runs launch now if a slot is free, otherwise in the background once
// one frees up. It reports whether the launch already happened.
func (s *JobScheduler) Schedule(ctx context.Context, id domain.JobID, launch LaunchFunc) (bool, error) {
	s.mu.Lock()
	if s.holding[id] || s.waiting[id] != nil {
		s.mu.Unlock()
		return false, domain.ErrWorkerExists
	}
	if err := s.ctx.Err(); err != nil {
		s.mu.Unlock()
		return false, domain.ErrShutdown
	}

	if s.semaphore == nil || s.semaphore.TryAcquire(1) {
		s.holding[id] = true
		s.mu.Unlock()
		if err := launch(ctx); err != nil {
			s.Done(id)
			if errors.Is(err, errLaunchSkipped) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	waitCtx, cancel := context.WithCancel(s.ctx)
	s.waiting[id] = cancel
	s.mu.Unlock()

	s.logger.Info("no free worker slot, job waiting", "job_id", id)
	go s.launchWhenFree(waitCtx, id, launch)
	return false, nil
}

func (s *JobScheduler) launchWhenFree(ctx context.Context, id domain.JobID, launch LaunchFunc) {
	err := s.semaphore.Acquire(ctx, 1)

	s.mu.Lock()
	cancel := s.waiting[id]
	delete(s.waiting, id)
	if cancel != nil {
		defer cancel()
	}
	if err != nil || cancel == nil {
		s.mu.Unlock()
		if err == nil {
			s.semaphore.Release(1)
		}
		s.logger.Debug("job wait abandoned", "job_id", id, "error", err)
		return
	}
	s.holding[id] = true
	s.mu.Unlock()

	if err := launch(s.ctx); err != nil {
		if !errors.Is(err, errLaunchSkipped) {
			s.logger.Error("deferred worker launch failed", "job_id", id, "error", err)
		}
		s.Done(id)
	}
}

// Abandon drops a job that is still waiting for a slot.
func (s *JobScheduler) Abandon(id domain.JobID) {
	s.mu.Lock()
	cancel := s.waiting[id]
	delete(s.waiting, id)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns the slot held by a job. Safe to call more than once.
func (s *JobScheduler) Done(id domain.JobID) {
	s.mu.Lock()
	held := s.holding[id]
	delete(s.holding, id)
	s.mu.Unlock()
	if held && s.semaphore != nil {
		s.semaphore.Release(1)
	}
}

// Stop abandons every waiting job and refuses new ones.
func (s *JobScheduler) Stop() {
	s.cancel()
}

func (s *JobScheduler) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

func (s *JobScheduler) Holding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holding)
}
