// Package transcriber is the code that runs inside an isolated worker: it
// drives a speech engine through the four job phases and reports each step.
package transcriber

import (
	"context"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

// Engine is a speech-to-text backend. One engine serves exactly one job.
type Engine interface {
	LoadModel(ctx context.Context) error
	// Convert turns the input video into audio the model can read and
	// returns the audio path.
	Convert(ctx context.Context, input string) (string, error)
	// Transcribe reports sub-progress (0..100) through onProgress.
	Transcribe(ctx context.Context, audio, language string, onProgress func(int)) (domain.Transcription, error)
	// Cleanup removes temporary files and releases the model.
	Cleanup() error
}

// EngineFactory builds the engine for one worker.
type EngineFactory func(spec domain.WorkerSpec) Engine
