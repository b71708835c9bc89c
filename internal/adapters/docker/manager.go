package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/manthysbr/aule-transcribe/internal/adapters/workerio"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
)

const (
	containerInputDir     = "/input"
	containerWorkspaceDir = "/workspace"
	containerUser         = "aule"
	containerPrefix       = "aule-worker-"
	labelManaged          = "aule.managed"
	labelJobID            = "aule.job_id"
	workerLog             = "worker.log"
	removeWait            = 5 * time.Second
)

// Options configures the sandboxed containers.
type Options struct {
	Image   string
	Command []string // entrypoint args, e.g. ["aule-transcribe", "worker"]
	CPUs    float64  // 0 = unlimited
	Memory  int64    // bytes, 0 = unlimited
}

// Manager runs each worker in its own network-less, read-only container.
type Manager struct {
	logger *slog.Logger
	cli    *client.Client
	opts   Options
}

// NewManager creates a new Docker manager
func NewManager(logger *slog.Logger, opts Options) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Manager{logger: logger, cli: cli, opts: opts}, nil
}

// Ensure Manager implements WorkerRuntime
var _ ports.WorkerRuntime = (*Manager)(nil)

func (m *Manager) Name() string { return "docker" }

func (m *Manager) Spawn(ctx context.Context, spec domain.WorkerSpec, sink ports.StatusSink) (ports.WorkerHandle, error) {
	id := domain.WorkerID(uuid.New().String())
	name := containerPrefix + string(id)

	cfg, hostCfg, err := containerConfig(m.opts, spec, id)
	if err != nil {
		return nil, err
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		m.logger.Info("pulling worker image", "image", m.opts.Image)
		reader, pullErr := m.cli.ImagePull(ctx, m.opts.Image, image.PullOptions{})
		if pullErr != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", m.opts.Image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
		resp, err = m.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		m.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := m.cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		m.remove(resp.ID)
		return nil, fmt.Errorf("failed to attach container logs: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(spec.WorkspaceDir, workerLog), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = logs.Close()
		m.remove(resp.ID)
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	h := &handle{
		id:          id,
		containerID: resp.ID,
		manager:     m,
		done:        make(chan struct{}),
	}
	m.logger.Debug("worker container started", "job_id", spec.JobID, "worker_id", id, "container", resp.ID)

	stdout, stdoutW := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, logFile, logs)
		_ = stdoutW.CloseWithError(err)
	}()

	go func() {
		defer close(h.done)
		defer logFile.Close()
		defer logs.Close()

		if err := workerio.Relay(stdout, spec.JobID, sink, m.logger); err != nil {
			m.logger.Warn("worker output relay stopped", "job_id", spec.JobID, "error", err)
		}
		waitCh, errCh := m.cli.ContainerWait(context.Background(), resp.ID, container.WaitConditionNotRunning)
		select {
		case res := <-waitCh:
			m.logger.Debug("worker container exited", "job_id", spec.JobID, "worker_id", id, "exit_code", res.StatusCode)
		case err := <-errCh:
			m.logger.Warn("worker container wait failed", "job_id", spec.JobID, "error", err)
		}
		m.remove(resp.ID)
	}()

	return h, nil
}

func (m *Manager) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeWait)
	defer cancel()
	err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		m.logger.Warn("failed to remove container", "container", containerID, "error", err)
	}
}

// RemoveOrphans force-removes managed containers left over from a previous run.
func (m *Manager) RemoveOrphans(ctx context.Context) (int, error) {
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: makeFilters(map[string]string{
			"label": labelManaged + "=true",
		}),
	})
	if err != nil {
		return 0, fmt.Errorf("list managed containers: %w", err)
	}
	for _, c := range containers {
		m.logger.Info("removing orphaned worker container", "container", c.ID, "job_id", c.Labels[labelJobID])
		m.remove(c.ID)
	}
	return len(containers), nil
}

func (m *Manager) Close() error {
	return m.cli.Close()
}

// containerConfig maps a worker spec onto the sandbox: the input file is
// mounted read-only, the workspace is the only writable bind mount.
func containerConfig(opts Options, spec domain.WorkerSpec, id domain.WorkerID) (*container.Config, *container.HostConfig, error) {
	inputPath, err := filepath.Abs(spec.InputRef)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve input path: %w", err)
	}
	workspace, err := filepath.Abs(spec.WorkspaceDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve workspace path: %w", err)
	}

	inner := spec
	inner.InputRef = containerInputDir + "/" + filepath.Base(inputPath)
	inner.WorkspaceDir = containerWorkspaceDir

	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          append(append([]string(nil), opts.Command...), workerio.EncodeArgs(inner)...),
		Env:          []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"},
		User:         containerUser,
		WorkingDir:   containerWorkspaceDir,
		Tty:          false,
		OpenStdin:    false,
		AttachStdout: true,
		AttachStderr: true,
		Labels: map[string]string{
			labelManaged:  "true",
			labelJobID:    string(spec.JobID),
			"aule.worker": string(id),
		},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   filepath.Dir(inputPath),
				Target:   containerInputDir,
				ReadOnly: true,
			},
			{
				Type:   mount.TypeBind,
				Source: workspace,
				Target: containerWorkspaceDir,
			},
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}
	if opts.CPUs > 0 {
		hostCfg.Resources.NanoCPUs = int64(opts.CPUs * 1e9)
	}
	if opts.Memory > 0 {
		hostCfg.Resources.Memory = opts.Memory
	}
	return cfg, hostCfg, nil
}

// Helper to construct list filters
func makeFilters(m map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range m {
		args.Add(k, v)
	}
	return args
}

type handle struct {
	id          domain.WorkerID
	containerID string
	manager     *Manager
	done        chan struct{}
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

// Terminate stops the container (SIGTERM, SIGKILL after grace) and waits for
// its output to be relayed.
func (h *handle) Terminate(ctx context.Context, grace time.Duration) error {
	if !h.Alive() {
		return nil
	}

	timeout := int(math.Ceil(grace.Seconds()))
	err := h.manager.cli.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		h.manager.logger.Warn("container stop failed, forcing removal", "container", h.containerID, "error", err)
		h.manager.remove(h.containerID)
	}

	wait := time.NewTimer(removeWait)
	defer wait.Stop()
	select {
	case <-h.done:
		return nil
	case <-wait.C:
		h.manager.remove(h.containerID)
		return fmt.Errorf("worker %s did not exit after stop", h.id)
	}
}
