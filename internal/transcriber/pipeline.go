package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

const (
	defaultCleanupTimeout = 5 * time.Second

	msgLoading     = "Loading Whisper model..."
	msgConverting  = "Converting audio with ffmpeg..."
	msgRunning     = "Transcribing audio..."
	msgCompleted   = "Transcription complete!"
	causeInterrupt = "worker interrupted"
)

// Emitter receives the status messages of one job, in order.
type Emitter interface {
	Emit(msg domain.StatusMessage) error
}

// Pipeline runs one job through LOADING, CONVERTING, RUNNING and a single
// terminal message.
type Pipeline struct {
	logger         *slog.Logger
	engine         Engine
	emitter        Emitter
	cleanupTimeout time.Duration
}

func NewPipeline(logger *slog.Logger, engine Engine, emitter Emitter) *Pipeline {
	return &Pipeline{
		logger:         logger,
		engine:         engine,
		emitter:        emitter,
		cleanupTimeout: defaultCleanupTimeout,
	}
}

// Run executes the job and returns the terminal message it emitted. Engine
// cleanup runs afterwards and never delays the terminal report.
func (p *Pipeline) Run(ctx context.Context, spec domain.WorkerSpec) domain.StatusMessage {
	result, err := p.execute(ctx, spec)

	var final domain.StatusMessage
	if err != nil {
		cause := err.Error()
		if ctx.Err() != nil {
			cause = causeInterrupt
		}
		p.logger.Error("transcription failed", "job_id", spec.JobID, "error", err)
		final = domain.FailedMessage(spec.JobID, cause)
	} else {
		final = domain.StatusMessage{
			JobID:    spec.JobID,
			Status:   domain.JobStatusCompleted,
			Progress: 100,
			Message:  msgCompleted,
			Result:   &result,
		}
	}
	p.emit(final)
	p.cleanup(spec.JobID)
	return final
}

func (p *Pipeline) execute(ctx context.Context, spec domain.WorkerSpec) (result domain.Transcription, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	p.phase(spec.JobID, domain.JobStatusLoading, 10, msgLoading)
	if err := p.engine.LoadModel(ctx); err != nil {
		return result, err
	}

	p.phase(spec.JobID, domain.JobStatusConverting, 30, msgConverting)
	audio, err := p.engine.Convert(ctx, spec.InputRef)
	if err != nil {
		return result, err
	}

	p.phase(spec.JobID, domain.JobStatusRunning, 50, msgRunning)
	// Sub values sharing a mapped progress are still sent so the message
	// carries the latest percentage.
	lastSub := -1
	result, err = p.engine.Transcribe(ctx, audio, spec.LanguageHint, func(sub int) {
		sub = clampPercent(sub)
		if sub == lastSub {
			return
		}
		lastSub = sub
		p.phase(spec.JobID, domain.JobStatusRunning, MapSubProgress(sub), fmt.Sprintf("%s %d%%", msgRunning, sub))
	})
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.VideoFilename = spec.DisplayName
	return result, nil
}

// MapSubProgress maps transcription sub-progress onto the 50..90 band.
func MapSubProgress(sub int) int {
	return 50 + clampPercent(sub)*4/10
}

func clampPercent(v int) int {
	return min(max(v, 0), 100)
}

func (p *Pipeline) phase(id domain.JobID, status domain.JobStatus, progress int, message string) {
	p.emit(domain.StatusMessage{JobID: id, Status: status, Progress: progress, Message: message})
}

func (p *Pipeline) emit(msg domain.StatusMessage) {
	if err := p.emitter.Emit(msg); err != nil {
		p.logger.Warn("failed to report status", "job_id", msg.JobID, "status", msg.Status, "error", err)
	}
}

func (p *Pipeline) cleanup(id domain.JobID) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("cleanup panicked: %v", r)
			}
		}()
		done <- p.engine.Cleanup()
	}()

	t := time.NewTimer(p.cleanupTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			p.logger.Warn("engine cleanup failed", "job_id", id, "error", err)
		}
	case <-t.C:
		p.logger.Warn("engine cleanup timed out", "job_id", id, "timeout", p.cleanupTimeout)
	}
}
