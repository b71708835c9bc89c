package ports

import (
	"context"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

// StatusSink is the producer side of the status channel.
// Implementations must be safe for concurrent use by many workers.
type StatusSink interface {
	Send(msg domain.StatusMessage) error
}

// WorkerRuntime abstracts the isolated execution unit (OS process, container).
// A runtime never runs job code inside the orchestrator's own process.
type WorkerRuntime interface {
	// Name identifies the runtime in logs.
	Name() string

	// Spawn starts a worker bound to spec and relays its status messages into sink.
	// It returns once the worker is running; it does not wait for completion.
	Spawn(ctx context.Context, spec domain.WorkerSpec, sink StatusSink) (WorkerHandle, error)
}

// WorkerHandle is the supervisor-side grip on one running worker.
type WorkerHandle interface {
	ID() domain.WorkerID

	// Alive reports whether the worker has not exited yet.
	Alive() bool

	// Terminate asks the worker to stop, waits up to grace, then kills it.
	Terminate(ctx context.Context, grace time.Duration) error

	// Done is closed after the worker exited and all of its output was relayed.
	Done() <-chan struct{}
}

// JobArchive keeps final job snapshots after they leave the in-memory store.
type JobArchive interface {
	Archive(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListByOwner(ctx context.Context, ownerKey string) ([]domain.Job, error)
	Close() error
}
