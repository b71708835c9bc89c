package domain

import "time"

const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// AppConfig is the main application configuration
type AppConfig struct {
	Environment string `yaml:"environment"`

	// Runtime selects the isolated execution unit: "process" or "docker".
	Runtime       string   `yaml:"runtime"`
	WorkerImage   string   `yaml:"worker_image"`
	WorkerCommand []string `yaml:"worker_command"`
	WorkerCPUs    float64  `yaml:"worker_cpus"`
	WorkerMemory  int64    `yaml:"worker_memory"` // bytes, 0 = unlimited

	WorkspaceDir string `yaml:"workspace_dir"`
	DBPath       string `yaml:"db_path"` // empty disables the job archive

	MaxConcurrentWorkers int64         `yaml:"max_concurrent_workers"` // 0 = unbounded
	CancelGrace          time.Duration `yaml:"cancel_grace"`
	ListenerPoll         time.Duration `yaml:"listener_poll"`
	ChannelCapacity      int           `yaml:"channel_capacity"`
	Retention            time.Duration `yaml:"retention"` // serve only, 0 keeps finished jobs forever

	ModelSize         string   `yaml:"model_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// Debug is true outside production, matching the dev/prod logging split.
func (c *AppConfig) Debug() bool {
	return c.Environment == "development"
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Environment:          "development",
		Runtime:              RuntimeProcess,
		WorkerImage:          "aule-transcribe:latest",
		WorkerCommand:        []string{"aule-transcribe", "worker"},
		WorkspaceDir:         "workspace",
		DBPath:               "",
		MaxConcurrentWorkers: 0,
		CancelGrace:          2 * time.Second,
		ListenerPoll:         200 * time.Millisecond,
		ChannelCapacity:      1024,
		Retention:            time.Hour,
		ModelSize:            "base",
		AllowedExtensions:    []string{".mp4", ".avi", ".mov", ".mkv", ".webm", ".m4v"},
	}
}
