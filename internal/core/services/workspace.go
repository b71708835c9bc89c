package services

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkspaceManager owns the per-job scratch directories handed to workers
// for converted audio and worker logs.
type WorkspaceManager struct {
	baseDir string
}

func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "aule-transcribe")
	}
	return &WorkspaceManager{
		baseDir: baseDir,
	}
}

// PrepareWorkspace creates the directory structure for a job (ephemeral)
// Path: baseDir/jobs/{id}
func (s *WorkspaceManager) PrepareWorkspace(id string) (string, error) {
	path := s.GetPath(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return abs, nil
}

// CleanupWorkspace removes the job workspace directory
func (s *WorkspaceManager) CleanupWorkspace(id string) error {
	return os.RemoveAll(s.GetPath(id))
}

// GetPath returns the path for a job's workspace
func (s *WorkspaceManager) GetPath(id string) string {
	return filepath.Join(s.baseDir, "jobs", id)
}
