package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const defaultCancelGrace = 2 * time.Second

// Supervisor owns the worker handles: one isolated worker per job at most.
type Supervisor struct {
	logger  *slog.Logger
	runtime ports.WorkerRuntime
	sink    ports.StatusSink
	grace   time.Duration

	// onExit runs after a worker exited while its handle was still registered.
	onExit func(domain.JobID)

	mu       sync.Mutex
	handles  map[domain.JobID]ports.WorkerHandle
	spawning map[domain.JobID]bool
}

func NewSupervisor(logger *slog.Logger, runtime ports.WorkerRuntime, sink ports.StatusSink, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = defaultCancelGrace
	}
	return &Supervisor{
		logger:   logger,
		runtime:  runtime,
		sink:     sink,
		grace:    grace,
		onExit:   func(domain.JobID) {},
		handles:  make(map[domain.JobID]ports.WorkerHandle),
		spawning: make(map[domain.JobID]bool),
	}
}

// errSpawnDiscarded means the worker started but its job was already gone
// and the worker was torn down again.
var errSpawnDiscarded = errors.New("worker discarded after spawn")

// Spawn starts the worker for spec.JobID and records its handle. keep is
// checked after the handle is registered; when it reports false the job was
// cancelled mid-spawn, so the worker is terminated and errSpawnDiscarded is
// returned.
func (s *Supervisor) Spawn(ctx context.Context, spec domain.WorkerSpec, keep func() bool) error {
	id := spec.JobID

	s.mu.Lock()
	if _, ok := s.handles[id]; ok || s.spawning[id] {
		s.mu.Unlock()
		return domain.ErrWorkerExists
	}
	s.spawning[id] = true
	s.mu.Unlock()

	handle, err := s.runtime.Spawn(ctx, spec, s.sink)

	s.mu.Lock()
	delete(s.spawning, id)
	if err == nil {
		s.handles[id] = handle
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("spawn %s worker: %w", s.runtime.Name(), err)
	}

	// A concurrent Terminate either saw the handle above or already changed
	// what keep reports.
	if keep != nil && !keep() {
		s.logger.Info("job ended while its worker was starting", "job_id", id, "worker_id", handle.ID())
		if err := s.Terminate(context.WithoutCancel(ctx), id); err != nil {
			return fmt.Errorf("%w: %w", errSpawnDiscarded, err)
		}
		return errSpawnDiscarded
	}

	s.logger.Info("worker spawned", "job_id", id, "worker_id", handle.ID(), "runtime", s.runtime.Name())
	go s.watch(id, handle)
	return nil
}

// watch reaps the handle once the worker exits on its own.
func (s *Supervisor) watch(id domain.JobID, handle ports.WorkerHandle) {
	<-handle.Done()
	s.logger.Debug("worker exited", "job_id", id, "worker_id", handle.ID())
	if s.releaseHandle(id, handle) {
		s.onExit(id)
	}
}

// Has reports whether a worker is registered or being started for the job.
func (s *Supervisor) Has(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]
	return ok || s.spawning[id]
}

func (s *Supervisor) Handle(id domain.JobID) (ports.WorkerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Release forgets the handle for a job. The process is left to exit on its own.
func (s *Supervisor) Release(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[id]; !ok {
		return false
	}
	delete(s.handles, id)
	return true
}

func (s *Supervisor) releaseHandle(id domain.JobID, handle ports.WorkerHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.handles[id]; !ok || current != handle {
		return false
	}
	delete(s.handles, id)
	return true
}

// Terminate stops the job's worker (graceful, then forced after the grace
// period) and releases its handle. A job without a worker is a no-op.
func (s *Supervisor) Terminate(ctx context.Context, id domain.JobID) error {
	handle, ok := s.Handle(id)
	if !ok {
		return nil
	}

	var err error
	if handle.Alive() {
		s.logger.Info("terminating worker", "job_id", id, "worker_id", handle.ID(), "grace", s.grace)
		err = handle.Terminate(ctx, s.grace)
		if err != nil {
			s.logger.Error("worker termination failed", "job_id", id, "worker_id", handle.ID(), "error", err)
		}
	}
	s.releaseHandle(id, handle)
	return err
}

// Shutdown terminates every live worker concurrently.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]domain.JobID, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return s.Terminate(gCtx, id)
		})
	}
	err := g.Wait()
	s.logger.Info("supervisor shut down", "terminated", len(ids))
	return err
}
