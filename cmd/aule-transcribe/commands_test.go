package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/adapters/duckdb"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
	"github.com/manthysbr/aule-transcribe/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, archive ports.JobArchive) *session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := &app{
		logger:  logger,
		cfg:     domain.DefaultConfig(),
		archive: archive,
		orch: services.NewOrchestrator(logger, nil, nil, services.NewWorkspaceManager(t.TempDir()), archive,
			services.OrchestratorConfig{}),
	}
	t.Cleanup(func() { _ = a.orch.Shutdown(context.Background()) })
	return newSession(a, io.Discard)
}

func archivedJob(id domain.JobID, owner string, created time.Time) domain.Job {
	return domain.Job{
		ID:          id,
		OwnerKey:    owner,
		InputRef:    "/uploads/" + string(id) + ".mp4",
		DisplayName: string(id) + ".mp4",
		Status:      domain.JobStatusCompleted,
		Progress:    100,
		Message:     "Transcription complete!",
		Result:      &domain.Transcription{Text: "hi", VideoFilename: string(id) + ".mp4"},
		Version:     5,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestSessionHistory(t *testing.T) {
	repo, err := duckdb.NewRepository(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.Archive(ctx, archivedJob("j1", "alice", now.Add(-time.Minute))))
	require.NoError(t, repo.Archive(ctx, archivedJob("j2", "alice", now)))
	require.NoError(t, repo.Archive(ctx, archivedJob("j3", "bob", now)))

	s := newTestSession(t, repo)

	byOwner := s.handle(ctx, request{Op: "history", Owner: "alice"})
	require.True(t, byOwner.OK, byOwner.Error)
	require.Len(t, byOwner.Jobs, 2)
	assert.Equal(t, domain.JobID("j2"), byOwner.Jobs[0].ID)
	assert.Equal(t, domain.JobID("j1"), byOwner.Jobs[1].ID)

	byID := s.handle(ctx, request{Op: "history", JobID: "j3"})
	require.True(t, byID.OK, byID.Error)
	require.Len(t, byID.Jobs, 1)
	assert.Equal(t, "bob", byID.Jobs[0].OwnerKey)
	require.NotNil(t, byID.Jobs[0].Result)
	assert.Equal(t, "hi", byID.Jobs[0].Result.Text)

	missing := s.handle(ctx, request{Op: "history", JobID: "nope"})
	assert.False(t, missing.OK)
	assert.Contains(t, missing.Error, domain.ErrJobNotFound.Error())

	bare := s.handle(ctx, request{Op: "history"})
	assert.False(t, bare.OK)
	assert.NotEmpty(t, bare.Error)
}

func TestSessionHistoryWithoutArchive(t *testing.T) {
	s := newTestSession(t, nil)

	r := s.handle(context.Background(), request{Op: "history", Owner: "alice"})
	assert.False(t, r.OK)
	assert.Equal(t, "job archive disabled", r.Error)
}

func TestSessionRejectsUnknownOp(t *testing.T) {
	s := newTestSession(t, nil)

	r := s.handle(context.Background(), request{Op: "explode"})
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, "unknown op")

	p := s.handle(context.Background(), request{Op: "progress", JobID: "nope"})
	assert.False(t, p.OK)
	assert.Equal(t, domain.ErrJobNotFound.Error(), p.Error)
}
