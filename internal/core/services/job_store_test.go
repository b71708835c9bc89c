package services

import (
	"testing"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore_ApplyBumpsVersion(t *testing.T) {
	store := NewJobStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	id := store.Create("key", "/in.mp4", "in.mp4", "")
	clock = clock.Add(time.Second)

	outcome := store.apply(domain.StatusMessage{JobID: id, Status: domain.JobStatusLoading, Progress: 10, Message: "Loading Whisper model..."})
	assert.Equal(t, applyAccepted, outcome)

	job, ok := store.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, int64(1), job.Version)
	assert.Equal(t, domain.JobStatusLoading, job.Status)
	assert.True(t, job.UpdatedAt.After(job.CreatedAt))
}

func TestJobStore_TerminalIsSticky(t *testing.T) {
	store := NewJobStore()
	id := store.Create("key", "/in.mp4", "in.mp4", "")

	cause := "X"
	require.Equal(t, applyAccepted, store.apply(domain.StatusMessage{JobID: id, Status: domain.JobStatusFailed, Message: "Transcription failed: X", Error: &cause}))
	assert.Equal(t, applyTerminal, store.apply(domain.StatusMessage{JobID: id, Status: domain.JobStatusRunning, Progress: 60}))

	_, ok := store.cancel(id, "stopped by caller")
	assert.False(t, ok)
	assert.Equal(t, int64(1), store.Version(id))
}

func TestJobStore_CancelledDiscardsWorkerMessages(t *testing.T) {
	store := NewJobStore()
	id := store.Create("key", "/in.mp4", "in.mp4", "")

	job, ok := store.cancel(id, "stopped by caller")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.Equal(t, int64(1), job.Version)

	assert.Equal(t, applyCancelled, store.apply(domain.StatusMessage{JobID: id, Status: domain.JobStatusRunning, Progress: 60}))
	assert.Equal(t, int64(1), store.Version(id))
}

func TestJobStore_SnapshotIsACopy(t *testing.T) {
	store := NewJobStore()
	id := store.Create("key", "/in.mp4", "in.mp4", "")
	store.apply(domain.StatusMessage{
		JobID:    id,
		Status:   domain.JobStatusCompleted,
		Progress: 100,
		Result:   &domain.Transcription{Text: "original", Timestamps: []domain.TimestampEntry{{Text: "a"}}},
	})

	snap, _ := store.Snapshot(id)
	snap.Result.Text = "mutated"
	snap.Result.Timestamps[0].Text = "mutated"

	again, _ := store.Snapshot(id)
	assert.Equal(t, "original", again.Result.Text)
	assert.Equal(t, "a", again.Result.Timestamps[0].Text)
}

func TestJobStore_RemoveTerminal(t *testing.T) {
	store := NewJobStore()
	id := store.Create("key", "/in.mp4", "in.mp4", "")

	_, err := store.removeTerminal(id)
	assert.ErrorIs(t, err, domain.ErrJobActive)
	_, err = store.removeTerminal("missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	store.cancel(id, "stopped by caller")
	job, err := store.removeTerminal(id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int64(-1), store.Version(id))
	assert.Equal(t, applyMissing, store.apply(domain.StatusMessage{JobID: id, Status: domain.JobStatusRunning}))
}

func TestJobStore_LiveIDs(t *testing.T) {
	store := NewJobStore()
	a := store.Create("key", "/a.mp4", "a.mp4", "")
	b := store.Create("key", "/b.mp4", "b.mp4", "")
	store.cancel(b, "stopped by caller")

	assert.Equal(t, []domain.JobID{a}, store.liveIDs())
}
