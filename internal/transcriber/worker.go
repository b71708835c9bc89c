package transcriber

import (
	"context"
	"io"
	"log/slog"

	"github.com/manthysbr/aule-transcribe/internal/adapters/workerio"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

// RunWorker is the body of the worker process. stdout carries status
// messages only; logs belong on stderr. It returns the process exit code.
func RunWorker(ctx context.Context, args []string, stdout, stderr io.Writer, logger *slog.Logger, newEngine EngineFactory) int {
	spec, err := workerio.DecodeArgs(args, stderr)
	if err != nil {
		logger.Error("invalid worker arguments", "error", err)
		return 2
	}
	logger = logger.With("job_id", spec.JobID)

	emitter := workerio.NewEmitter(stdout, spec.JobID)
	final := NewPipeline(logger, newEngine(spec), emitter).Run(ctx, spec)
	logger.Info("worker finished", "status", final.Status)
	return 0
}

// MockEngineFactory returns engines that simulate a transcription.
func MockEngineFactory(logger *slog.Logger) EngineFactory {
	return func(spec domain.WorkerSpec) Engine {
		return NewMockEngine(logger, spec)
	}
}
