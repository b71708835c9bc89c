package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStatusMessage = errors.New("invalid status message")
	ErrChannelClosed        = errors.New("status channel closed")
)

// StatusMessage is one progress report sent by a worker over the status channel.
type StatusMessage struct {
	JobID    JobID          `json:"job_id"`
	Status   JobStatus      `json:"status"`
	Progress int            `json:"progress"`
	Message  string         `json:"message"`
	Result   *Transcription `json:"result"`
	Error    *string        `json:"error"`
}

// Validate rejects messages a worker is never allowed to send.
func (m StatusMessage) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("%w: missing job id", ErrInvalidStatusMessage)
	}
	if !m.Status.Valid() || m.Status == JobStatusQueued || m.Status == JobStatusCancelled {
		return fmt.Errorf("%w: status %q not reportable by a worker", ErrInvalidStatusMessage, m.Status)
	}
	if m.Progress < 0 || m.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidStatusMessage, m.Progress)
	}
	if m.Result != nil && m.Status != JobStatusCompleted {
		return fmt.Errorf("%w: result only allowed on %s", ErrInvalidStatusMessage, JobStatusCompleted)
	}
	if m.Error != nil && m.Status != JobStatusFailed {
		return fmt.Errorf("%w: error only allowed on %s", ErrInvalidStatusMessage, JobStatusFailed)
	}
	if m.Status == JobStatusCompleted && m.Result == nil {
		return fmt.Errorf("%w: %s without result", ErrInvalidStatusMessage, m.Status)
	}
	if m.Status == JobStatusFailed && m.Error == nil {
		return fmt.Errorf("%w: %s without error", ErrInvalidStatusMessage, m.Status)
	}
	return nil
}

// FailedMessage builds the single terminal message for a failed job.
func FailedMessage(id JobID, cause string) StatusMessage {
	return StatusMessage{
		JobID:    id,
		Status:   JobStatusFailed,
		Progress: 0,
		Message:  "Transcription failed: " + cause,
		Error:    &cause,
	}
}
