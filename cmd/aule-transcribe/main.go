package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/adapters/docker"
	"github.com/manthysbr/aule-transcribe/internal/adapters/duckdb"
	"github.com/manthysbr/aule-transcribe/internal/adapters/process"
	appconfig "github.com/manthysbr/aule-transcribe/internal/config"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
	"github.com/manthysbr/aule-transcribe/internal/core/services"
	"github.com/manthysbr/aule-transcribe/internal/transcriber"
)

const shutdownTimeout = 10 * time.Second

const usage = `usage: aule-transcribe <command> [args]

commands:
  serve                      read job commands as JSON lines on stdin, stream events on stdout
                             ops: submit, cancel, progress, cleanup, history
  transcribe [flags] FILE... transcribe files and print progress events
  worker [flags]             run one job (started by the orchestrator)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := appconfig.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "worker":
		code := transcriber.RunWorker(ctx, args, os.Stdout, os.Stderr, logger, transcriber.MockEngineFactory(logger))
		stop()
		os.Exit(code)
	case "serve":
		err = runServe(ctx, logger, cfg, os.Stdin, os.Stdout)
	case "transcribe":
		err = runTranscribe(ctx, logger, cfg, args, os.Stdout)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("aule-transcribe failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

type app struct {
	logger  *slog.Logger
	cfg     *domain.AppConfig
	orch    *services.Orchestrator
	archive ports.JobArchive
	bus     *services.EventBus
	watcher *services.ProgressWatcher
	closers []func() error
}

func newApp(ctx context.Context, logger *slog.Logger, cfg *domain.AppConfig) (*app, error) {
	a := &app{logger: logger, cfg: cfg}

	runtime, err := a.newRuntime(ctx)
	if err != nil {
		a.closeAdapters()
		return nil, err
	}

	if cfg.DBPath != "" {
		repo, err := duckdb.NewRepository(cfg.DBPath)
		if err != nil {
			a.closeAdapters()
			return nil, fmt.Errorf("failed to init job archive: %w", err)
		}
		a.archive = repo
		a.closers = append(a.closers, repo.Close)
	}

	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{MaxConcurrentWorkers: cfg.MaxConcurrentWorkers})
	a.orch = services.NewOrchestrator(logger, runtime, scheduler, services.NewWorkspaceManager(cfg.WorkspaceDir), a.archive, services.OrchestratorConfig{
		CancelGrace:     cfg.CancelGrace,
		ListenerPoll:    cfg.ListenerPoll,
		ChannelCapacity: cfg.ChannelCapacity,
		ModelSize:       cfg.ModelSize,
	})
	a.bus = services.NewEventBus(logger)
	a.watcher = services.NewProgressWatcher(logger, a.orch, a.bus, cfg.ListenerPoll)

	logger.Info("orchestrator ready",
		"runtime", runtime.Name(),
		"max_workers", cfg.MaxConcurrentWorkers,
		"archive", cfg.DBPath != "",
		"workspace", cfg.WorkspaceDir)
	return a, nil
}

func (a *app) newRuntime(ctx context.Context) (ports.WorkerRuntime, error) {
	switch a.cfg.Runtime {
	case domain.RuntimeDocker:
		mgr, err := docker.NewManager(a.logger, docker.Options{
			Image:   a.cfg.WorkerImage,
			Command: a.cfg.WorkerCommand,
			CPUs:    a.cfg.WorkerCPUs,
			Memory:  a.cfg.WorkerMemory,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init docker manager: %w", err)
		}
		a.closers = append(a.closers, mgr.Close)
		if n, err := mgr.RemoveOrphans(ctx); err != nil {
			a.logger.Warn("orphan container sweep failed", "error", err)
		} else if n > 0 {
			a.logger.Info("removed orphaned worker containers", "count", n)
		}
		return mgr, nil
	default:
		rt, err := process.NewRuntime(a.logger, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to init process runtime: %w", err)
		}
		return rt, nil
	}
}

// submit registers and starts a job for a local file.
func (a *app) submit(ctx context.Context, owner, path, language string) (domain.JobID, error) {
	if !appconfig.IsAllowedExtension(a.cfg, path) {
		return "", fmt.Errorf("unsupported file type: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("input: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("input is a directory: %s", path)
	}

	id := a.orch.Create(owner, path, info.Name(), language)
	if err := a.orch.Submit(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.orch.Shutdown(ctx); err != nil {
		a.logger.Warn("orchestrator shutdown incomplete", "error", err)
	}
	a.closeAdapters()
}

func (a *app) closeAdapters() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close adapter", "error", err)
		}
	}
	a.closers = nil
}
