package services

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

type applyOutcome int

const (
	applyAccepted applyOutcome = iota
	applyMissing
	applyCancelled
	applyTerminal
)

func (o applyOutcome) String() string {
	switch o {
	case applyAccepted:
		return "accepted"
	case applyMissing:
		return "missing"
	case applyCancelled:
		return "cancelled"
	case applyTerminal:
		return "terminal"
	}
	return "unknown"
}

// JobStore is the in-memory registry of job records.
// Reads are open to everyone; mutations are unexported and reserved for the
// orchestrator (cancellation) and the status listener (worker updates).
type JobStore struct {
	mu   sync.RWMutex
	jobs map[domain.JobID]*domain.Job
	now  func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[domain.JobID]*domain.Job),
		now:  time.Now,
	}
}

// Create inserts a QUEUED record with version 0 and returns its fresh id.
func (s *JobStore) Create(ownerKey, inputRef, displayName, languageHint string) domain.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newJobID()
	for {
		if _, taken := s.jobs[id]; !taken {
			break
		}
		id = newJobID()
	}

	now := s.now()
	s.jobs[id] = &domain.Job{
		ID:           id,
		OwnerKey:     ownerKey,
		InputRef:     inputRef,
		DisplayName:  displayName,
		LanguageHint: languageHint,
		Status:       domain.JobStatusQueued,
		Progress:     0,
		Message:      "Job queued",
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return id
}

func newJobID() domain.JobID {
	return domain.JobID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Snapshot returns an immutable copy of the record.
func (s *JobStore) Snapshot(id domain.JobID) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return job.Clone(), true
}

// Version returns the mutation counter, or -1 for unknown ids.
func (s *JobStore) Version(id domain.JobID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return -1
	}
	return job.Version
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) status(id domain.JobID) (domain.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// apply writes a worker-originated message. Cancelled and terminal records
// are never touched.
func (s *JobStore) apply(msg domain.StatusMessage) applyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[msg.JobID]
	if !ok {
		return applyMissing
	}
	if job.Status == domain.JobStatusCancelled {
		return applyCancelled
	}
	if job.Status.IsTerminal() {
		return applyTerminal
	}

	job.Status = msg.Status
	job.Progress = msg.Progress
	job.Message = msg.Message
	switch msg.Status {
	case domain.JobStatusCompleted:
		r := msg.Result.Clone()
		job.Result = &r
	case domain.JobStatusFailed:
		e := *msg.Error
		job.Error = &e
	}
	job.Version++
	job.UpdatedAt = s.now()
	return applyAccepted
}

// cancel forces a non-terminal record into CANCELLED.
func (s *JobStore) cancel(id domain.JobID, message string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return domain.Job{}, false
	}
	job.Status = domain.JobStatusCancelled
	job.Message = message
	job.Version++
	job.UpdatedAt = s.now()
	return job.Clone(), true
}

// removeTerminal deletes a finished record and returns its final state.
func (s *JobStore) removeTerminal(id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if !job.Status.IsTerminal() {
		return domain.Job{}, domain.ErrJobActive
	}
	delete(s.jobs, id)
	return job.Clone(), nil
}

// terminalBefore lists finished jobs whose last change is older than cutoff.
func (s *JobStore) terminalBefore(cutoff time.Time) []domain.JobID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []domain.JobID
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// liveIDs lists every job that has not reached a terminal state.
func (s *JobStore) liveIDs() []domain.JobID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.JobID, 0, len(s.jobs))
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
