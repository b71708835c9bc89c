package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusLoading    JobStatus = "LOADING"
	JobStatusConverting JobStatus = "CONVERTING"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further mutation is accepted in this state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusLoading, JobStatusConverting, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one submitted transcription with its lifecycle and progress state.
type Job struct {
	ID           JobID          `json:"id"`
	OwnerKey     string         `json:"owner_key"`
	InputRef     string         `json:"input_ref"`
	DisplayName  string         `json:"display_name"`
	LanguageHint string         `json:"language_hint,omitempty"`
	Status       JobStatus      `json:"status"`
	Progress     int            `json:"progress"`
	Message      string         `json:"message"`
	Result       *Transcription `json:"result,omitempty"`
	Error        *string        `json:"error,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	cp := j
	if j.Result != nil {
		r := j.Result.Clone()
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return cp
}

// View strips the job down to what pollers may observe.
func (j Job) View() ProgressView {
	cp := j.Clone()
	return ProgressView{
		ID:       cp.ID,
		Status:   cp.Status,
		Progress: cp.Progress,
		Message:  cp.Message,
		Result:   cp.Result,
		Error:    cp.Error,
	}
}

// ProgressView is the read-only shape handed to polling and streaming layers.
type ProgressView struct {
	ID       JobID          `json:"job_id"`
	Status   JobStatus      `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Result   *Transcription `json:"result"`
	Error    *string        `json:"error"`
}

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotQueued = errors.New("job is not queued")
	ErrJobActive    = errors.New("job is not in a terminal state")
	ErrWorkerExists = errors.New("worker already scheduled for job")
	ErrShutdown     = errors.New("orchestrator is shut down")
)
