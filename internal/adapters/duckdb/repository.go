package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	id            VARCHAR PRIMARY KEY,
	owner_key     VARCHAR NOT NULL,
	input_ref     VARCHAR NOT NULL,
	display_name  VARCHAR NOT NULL,
	language_hint VARCHAR,
	status        VARCHAR NOT NULL,
	progress      INTEGER NOT NULL,
	message       VARCHAR NOT NULL,
	result        VARCHAR,
	error         VARCHAR,
	version       BIGINT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
)`

// Repository archives finished jobs in a DuckDB file.
type Repository struct {
	db *sql.DB
}

// Ensure Repository implements JobArchive
var _ ports.JobArchive = (*Repository)(nil)

// NewRepository opens (or creates) the database at path. An empty path keeps
// everything in memory.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create job_history: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Archive upserts the final snapshot of a job.
func (r *Repository) Archive(ctx context.Context, job domain.Job) error {
	var result sql.NullString
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	var jobErr sql.NullString
	if job.Error != nil {
		jobErr = sql.NullString{String: *job.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_history (id, owner_key, input_ref, display_name, language_hint,
		                         status, progress, message, result, error, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status     = excluded.status,
			progress   = excluded.progress,
			message    = excluded.message,
			result     = excluded.result,
			error      = excluded.error,
			version    = excluded.version,
			updated_at = excluded.updated_at`,
		string(job.ID),
		job.OwnerKey,
		job.InputRef,
		job.DisplayName,
		job.LanguageHint,
		string(job.Status),
		job.Progress,
		job.Message,
		result,
		jobErr,
		job.Version,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

const selectJob = `
	SELECT id, owner_key, input_ref, display_name, language_hint, status, progress,
	       message, result, error, version, created_at, updated_at
	FROM job_history`

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("archived job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListByOwner returns the archived jobs of one API key, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerKey string) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJob+` WHERE owner_key = ? ORDER BY created_at DESC`, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (domain.Job, error) {
	var (
		job                      domain.Job
		id, status               string
		language, result, jobErr sql.NullString
	)
	err := s.Scan(
		&id, &job.OwnerKey, &job.InputRef, &job.DisplayName, &language, &status, &job.Progress,
		&job.Message, &result, &jobErr, &job.Version, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.ID = domain.JobID(id)
	job.Status = domain.JobStatus(status)
	job.LanguageHint = language.String
	if result.Valid {
		var t domain.Transcription
		if err := json.Unmarshal([]byte(result.String), &t); err != nil {
			return domain.Job{}, fmt.Errorf("decode result of %s: %w", id, err)
		}
		job.Result = &t
	}
	if jobErr.Valid {
		e := jobErr.String
		job.Error = &e
	}
	return job, nil
}
