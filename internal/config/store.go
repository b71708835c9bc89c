package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

// Environment variables read by Load.
const (
	EnvConfigFile        = "AULE_CONFIG_FILE"
	EnvEnvironment       = "AULE_ENV"
	EnvRuntime           = "AULE_RUNTIME"
	EnvWorkerImage       = "AULE_WORKER_IMAGE"
	EnvWorkspaceDir      = "AULE_WORKSPACE_DIR"
	EnvDBPath            = "AULE_DB_PATH"
	EnvMaxWorkers        = "AULE_MAX_WORKERS"
	EnvCancelGrace       = "AULE_CANCEL_GRACE"
	EnvListenerPoll      = "AULE_LISTENER_POLL"
	EnvRetention         = "AULE_RETENTION"
	EnvModelSize         = "AULE_MODEL_SIZE"
	EnvAllowedExtensions = "AULE_ALLOWED_EXTENSIONS"
)

// Load builds the config from defaults, then the optional YAML file named by
// AULE_CONFIG_FILE, then environment overrides.
func Load() (*domain.AppConfig, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(lookup func(string) (string, bool)) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	if path, ok := lookup(EnvConfigFile); ok && path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *domain.AppConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *domain.AppConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvEnvironment, &cfg.Environment)
	str(EnvRuntime, &cfg.Runtime)
	str(EnvWorkerImage, &cfg.WorkerImage)
	str(EnvWorkspaceDir, &cfg.WorkspaceDir)
	str(EnvModelSize, &cfg.ModelSize)

	// An explicitly empty AULE_DB_PATH disables the archive.
	if v, ok := lookup(EnvDBPath); ok {
		cfg.DBPath = strings.TrimSpace(v)
	}

	if v, ok := lookup(EnvMaxWorkers); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxWorkers, err)
		}
		cfg.MaxConcurrentWorkers = n
	}
	for key, dst := range map[string]*time.Duration{
		EnvCancelGrace:  &cfg.CancelGrace,
		EnvListenerPoll: &cfg.ListenerPoll,
		EnvRetention:    &cfg.Retention,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v, ok := lookup(EnvAllowedExtensions); ok && v != "" {
		cfg.AllowedExtensions = splitExtensions(v)
	}
	return nil
}

func splitExtensions(csv string) []string {
	var out []string
	for _, ext := range strings.Split(csv, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// Validate rejects settings the orchestrator cannot run with.
func Validate(cfg *domain.AppConfig) error {
	switch cfg.Runtime {
	case domain.RuntimeProcess:
	case domain.RuntimeDocker:
		if cfg.WorkerImage == "" {
			return fmt.Errorf("worker_image is required when runtime=docker")
		}
	default:
		return fmt.Errorf("unknown runtime %q (want %s or %s)", cfg.Runtime, domain.RuntimeProcess, domain.RuntimeDocker)
	}
	if cfg.MaxConcurrentWorkers < 0 {
		return fmt.Errorf("max_concurrent_workers must be >= 0, got %d", cfg.MaxConcurrentWorkers)
	}
	if cfg.CancelGrace <= 0 {
		return fmt.Errorf("cancel_grace must be positive, got %s", cfg.CancelGrace)
	}
	if cfg.ListenerPoll <= 0 {
		return fmt.Errorf("listener_poll must be positive, got %s", cfg.ListenerPoll)
	}
	if cfg.Retention < 0 {
		return fmt.Errorf("retention must be >= 0, got %s", cfg.Retention)
	}
	if cfg.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive, got %d", cfg.ChannelCapacity)
	}
	if cfg.WorkerCPUs < 0 || cfg.WorkerMemory < 0 {
		return fmt.Errorf("worker limits must be >= 0")
	}
	if cfg.ModelSize == "" {
		cfg.ModelSize = "base"
	}
	return nil
}

// IsAllowedExtension reports whether name has one of the configured video
// extensions. Upload validation itself lives outside the orchestrator.
func IsAllowedExtension(cfg *domain.AppConfig, name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range cfg.AllowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// NewLogger returns a text logger at debug level in development and a JSON
// logger at info level otherwise. Output goes to stderr so a worker's stdout
// stays reserved for status messages.
func NewLogger(cfg *domain.AppConfig) *slog.Logger {
	if cfg.Debug() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
