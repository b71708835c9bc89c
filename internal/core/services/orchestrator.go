package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
)

const (
	cancelledByCaller   = "stopped by caller"
	cancelledByShutdown = "stopped by shutdown"
)

// OrchestratorConfig tunes the orchestrator internals. Zero values pick defaults.
type OrchestratorConfig struct {
	CancelGrace     time.Duration
	ListenerPoll    time.Duration
	ChannelCapacity int
	ModelSize       string
}

// Orchestrator runs transcription jobs in isolated workers and exposes their
// progress to pollers. Create, Submit, Cancel, GetProgress, GetVersion,
// GetSnapshot, Cleanup and Shutdown are the only entry points.
type Orchestrator struct {
	logger     *slog.Logger
	store      *JobStore
	channel    *StatusChannel
	listener   *StatusListener
	supervisor *Supervisor
	scheduler  *JobScheduler
	workspace  *WorkspaceManager
	archive    ports.JobArchive
	modelSize  string

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewOrchestrator wires the store, channel, listener and supervisor around a
// worker runtime. archive may be nil.
func NewOrchestrator(
	logger *slog.Logger,
	runtime ports.WorkerRuntime,
	scheduler *JobScheduler,
	workspace *WorkspaceManager,
	archive ports.JobArchive,
	cfg OrchestratorConfig,
) *Orchestrator {
	if scheduler == nil {
		scheduler = NewJobScheduler(logger, SchedulerConfig{})
	}
	if workspace == nil {
		workspace = NewWorkspaceManager("")
	}

	o := &Orchestrator{
		logger:    logger,
		store:     NewJobStore(),
		channel:   NewStatusChannel(cfg.ChannelCapacity),
		scheduler: scheduler,
		workspace: workspace,
		archive:   archive,
		modelSize: cfg.ModelSize,
	}
	o.supervisor = NewSupervisor(logger, runtime, o.channel.Sink(), cfg.CancelGrace)
	o.supervisor.onExit = o.workerExited
	o.listener = NewStatusListener(logger, o.store, o.channel, cfg.ListenerPoll, o.releaseWorker)
	return o
}

// Create registers a QUEUED job and returns its id.
func (o *Orchestrator) Create(ownerKey, inputRef, displayName, languageHint string) domain.JobID {
	id := o.store.Create(ownerKey, inputRef, displayName, languageHint)
	o.logger.Info("job created", "job_id", id, "owner", truncateKey(ownerKey), "file", displayName)
	return id
}

// Submit hands a QUEUED job to a new isolated worker and returns immediately.
func (o *Orchestrator) Submit(ctx context.Context, id domain.JobID) error {
	if o.closed.Load() {
		return domain.ErrShutdown
	}
	job, ok := o.store.Snapshot(id)
	if !ok {
		return fmt.Errorf("submit %s: %w", id, domain.ErrJobNotFound)
	}
	if job.Status != domain.JobStatusQueued {
		return fmt.Errorf("submit %s (status %s): %w", id, job.Status, domain.ErrJobNotQueued)
	}
	if o.supervisor.Has(id) {
		return fmt.Errorf("submit %s: %w", id, domain.ErrWorkerExists)
	}

	o.listener.Start()

	workspaceDir, err := o.workspace.PrepareWorkspace(string(id))
	if err != nil {
		o.failJob(id, err)
		return fmt.Errorf("submit %s: %w", id, err)
	}

	spec := domain.WorkerSpec{
		JobID:        id,
		InputRef:     job.InputRef,
		DisplayName:  job.DisplayName,
		LanguageHint: job.LanguageHint,
		WorkspaceDir: workspaceDir,
		ModelSize:    o.modelSize,
	}

	started, err := o.scheduler.Schedule(ctx, id, o.launcher(spec))
	if err != nil {
		return fmt.Errorf("submit %s: %w", id, err)
	}
	o.logger.Info("job submitted", "job_id", id, "started", started)
	return nil
}

// launcher spawns the worker unless the job left QUEUED while waiting for a
// slot. Spawn failures terminate the job through the status channel.
func (o *Orchestrator) launcher(spec domain.WorkerSpec) LaunchFunc {
	return func(ctx context.Context) error {
		status, ok := o.store.status(spec.JobID)
		if !ok || status != domain.JobStatusQueued {
			return errLaunchSkipped
		}
		stillQueued := func() bool {
			status, ok := o.store.status(spec.JobID)
			return ok && status == domain.JobStatusQueued
		}
		err := o.supervisor.Spawn(ctx, spec, stillQueued)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errSpawnDiscarded):
			o.logger.Debug("worker for cancelled job torn down", "job_id", spec.JobID, "error", err)
			return errLaunchSkipped
		case errors.Is(err, domain.ErrWorkerExists):
			return err
		}
		o.failJob(spec.JobID, err)
		return err
	}
}

// Cancel marks a live job CANCELLED right away, then tears down its worker.
// It returns false for unknown or already terminal jobs.
func (o *Orchestrator) Cancel(ctx context.Context, id domain.JobID) bool {
	return o.cancel(ctx, id, cancelledByCaller)
}

func (o *Orchestrator) cancel(ctx context.Context, id domain.JobID, reason string) bool {
	job, ok := o.store.cancel(id, reason)
	if !ok {
		o.logger.Debug("cancel ignored", "job_id", id)
		return false
	}
	o.logger.Info("job cancelled", "job_id", id, "version", job.Version, "reason", reason)

	o.scheduler.Abandon(id)
	if err := o.supervisor.Terminate(ctx, id); err != nil {
		o.logger.Warn("worker teardown incomplete", "job_id", id, "error", err)
	}
	o.scheduler.Done(id)
	return true
}

// GetProgress returns the poller view of a job.
func (o *Orchestrator) GetProgress(id domain.JobID) (domain.ProgressView, bool) {
	job, ok := o.store.Snapshot(id)
	if !ok {
		return domain.ProgressView{}, false
	}
	return job.View(), true
}

// GetVersion returns the change counter of a job, or -1 if it is unknown.
func (o *Orchestrator) GetVersion(id domain.JobID) int64 {
	return o.store.Version(id)
}

// GetSnapshot returns a full copy of a job record.
func (o *Orchestrator) GetSnapshot(id domain.JobID) (domain.Job, bool) {
	return o.store.Snapshot(id)
}

// Cleanup removes a terminal job, archiving its final state and deleting its
// workspace. Live or unknown jobs are left alone and false is returned.
func (o *Orchestrator) Cleanup(ctx context.Context, id domain.JobID) bool {
	job, err := o.store.removeTerminal(id)
	if err != nil {
		o.logger.Debug("cleanup ignored", "job_id", id, "error", err)
		return false
	}

	if o.archive != nil {
		if err := o.archive.Archive(ctx, job); err != nil {
			o.logger.Warn("failed to archive job", "job_id", id, "error", err)
		}
	}
	if err := o.workspace.CleanupWorkspace(string(id)); err != nil {
		o.logger.Warn("failed to remove job workspace", "job_id", id, "error", err)
	}
	o.logger.Info("job cleaned up", "job_id", id, "status", job.Status)
	return true
}

// Shutdown stops the listener, cancels every live job and terminates all
// workers. Later calls return the first result.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.closed.Store(true)
		o.logger.Info("shutting down orchestrator")

		o.listener.Stop()
		o.scheduler.Stop()

		for _, id := range o.store.liveIDs() {
			if job, ok := o.store.cancel(id, cancelledByShutdown); ok {
				o.logger.Info("job cancelled", "job_id", id, "version", job.Version, "reason", cancelledByShutdown)
			}
		}
		// Relays blocked on a full buffer must unblock before workers are reaped.
		o.channel.Close()
		o.shutdownErr = o.supervisor.Shutdown(ctx)
	})
	return o.shutdownErr
}

// ActiveWorkers reports how many worker handles are registered.
func (o *Orchestrator) ActiveWorkers() int {
	return o.supervisor.ActiveCount()
}

func (o *Orchestrator) releaseWorker(id domain.JobID) {
	if o.supervisor.Release(id) {
		o.logger.Debug("worker handle released", "job_id", id)
	}
	o.scheduler.Done(id)
}

// workerExited fires when a worker process ended while still registered. If
// it died without a terminal report the job is failed; otherwise the FAILED
// message is ignored as a late update.
func (o *Orchestrator) workerExited(id domain.JobID) {
	o.scheduler.Done(id)
	o.failJob(id, errors.New("worker exited without reporting a result"))
}

// failJob routes a supervisor-side failure through the status channel so the
// listener stays the single writer for worker outcomes.
func (o *Orchestrator) failJob(id domain.JobID, cause error) {
	o.logger.Error("job failed", "job_id", id, "error", cause)
	if err := o.channel.Send(domain.FailedMessage(id, cause.Error())); err != nil {
		o.logger.Debug("failure report dropped", "job_id", id, "error", err)
	}
}

func truncateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
