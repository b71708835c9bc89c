package domain

// ID types to prevent stringly-typed confusion
type WorkerID string

// WorkerSpec is everything an isolated worker needs to process one job.
type WorkerSpec struct {
	JobID        JobID  `json:"job_id"`
	InputRef     string `json:"input_ref"`
	DisplayName  string `json:"display_name"`
	LanguageHint string `json:"language_hint,omitempty"`
	WorkspaceDir string `json:"workspace_dir"`
	ModelSize    string `json:"model_size"`
}
