// Package process runs each transcription worker as a separate OS process
// in its own process group.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/aule-transcribe/internal/adapters/workerio"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
)

const (
	killWait   = 5 * time.Second
	workerLog  = "worker.log"
	workerMode = "worker"
)

// Runtime spawns workers by re-executing a command, by default the current
// binary in worker mode.
type Runtime struct {
	logger  *slog.Logger
	command []string
	env     []string
}

// Ensure Runtime implements WorkerRuntime
var _ ports.WorkerRuntime = (*Runtime)(nil)

// NewRuntime builds a runtime around command (program plus leading args).
// An empty command means "<this executable> worker".
func NewRuntime(logger *slog.Logger, command []string, env []string) (*Runtime, error) {
	if len(command) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		command = []string{self, workerMode}
	}
	return &Runtime{
		logger:  logger,
		command: append([]string(nil), command...),
		env:     env,
	}, nil
}

func (r *Runtime) Name() string { return "process" }

func (r *Runtime) Spawn(ctx context.Context, spec domain.WorkerSpec, sink ports.StatusSink) (ports.WorkerHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), r.command[1:]...), workerio.EncodeArgs(spec)...)
	// Lifetime is owned by the handle, not by ctx.
	cmd := exec.Command(r.command[0], args...)
	cmd.Dir = spec.WorkspaceDir
	if r.env != nil {
		cmd.Env = r.env
	}

	logFile, err := os.OpenFile(filepath.Join(spec.WorkspaceDir, workerLog), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	cmd.Stderr = logFile

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("attach worker stdout: %w", err)
	}

	configureWorkerProcess(cmd)
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start worker for job %s: %w", spec.JobID, err)
	}

	h := &handle{
		id:   domain.WorkerID(uuid.NewString()),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	r.logger.Debug("worker process started", "job_id", spec.JobID, "worker_id", h.id, "pid", cmd.Process.Pid)

	go func() {
		defer close(h.done)
		defer logFile.Close()

		if err := workerio.Relay(stdout, spec.JobID, sink, r.logger); err != nil {
			r.logger.Warn("worker output relay stopped", "job_id", spec.JobID, "error", err)
		}
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			r.logger.Warn("worker wait failed", "job_id", spec.JobID, "error", err)
		}
		r.logger.Debug("worker process exited", "job_id", spec.JobID, "worker_id", h.id, "exit_code", cmd.ProcessState.ExitCode())
	}()

	return h, nil
}

type handle struct {
	id   domain.WorkerID
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (h *handle) ID() domain.WorkerID { return h.id }

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr is the result of cmd.Wait once the worker is gone.
func (h *handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Terminate interrupts the process group, waits up to grace, then kills it.
func (h *handle) Terminate(ctx context.Context, grace time.Duration) error {
	if !h.Alive() {
		return nil
	}

	interruptWorker(h.cmd)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	killWorker(h.cmd)

	wait := time.NewTimer(killWait)
	defer wait.Stop()
	select {
	case <-h.done:
		return nil
	case <-wait.C:
		return fmt.Errorf("worker %s did not exit after kill", h.id)
	}
}
