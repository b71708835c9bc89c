package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

const transcribeSteps = 100

// MockEngine stands in for Whisper and ffmpeg: it sleeps through each phase,
// writes a placeholder audio file and returns a canned meeting transcript.
type MockEngine struct {
	Logger       *slog.Logger
	ModelSize    string
	WorkspaceDir string

	LoadDelay       time.Duration
	ConvertDelay    time.Duration
	TranscribeDelay time.Duration

	// FailPhase makes the matching phase return FailErr.
	FailPhase domain.JobStatus
	FailErr   error

	loaded    bool
	tempFiles []string
}

// NewMockEngine uses the timings of the reference mock: 1.5s load, 2s
// conversion, 3s transcription.
func NewMockEngine(logger *slog.Logger, spec domain.WorkerSpec) *MockEngine {
	return &MockEngine{
		Logger:          logger,
		ModelSize:       spec.ModelSize,
		WorkspaceDir:    spec.WorkspaceDir,
		LoadDelay:       1500 * time.Millisecond,
		ConvertDelay:    2 * time.Second,
		TranscribeDelay: 3 * time.Second,
	}
}

func (e *MockEngine) LoadModel(ctx context.Context) error {
	e.Logger.Info("loading whisper model", "size", e.ModelSize)
	if err := e.failIf(domain.JobStatusLoading); err != nil {
		return err
	}
	if err := sleep(ctx, e.LoadDelay); err != nil {
		return err
	}
	e.loaded = true
	return nil
}

func (e *MockEngine) Convert(ctx context.Context, input string) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("input not readable: %w", err)
	}
	if err := e.failIf(domain.JobStatusConverting); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	wav := filepath.Join(e.WorkspaceDir, base+".wav")
	e.tempFiles = append(e.tempFiles, wav)

	e.Logger.Info("converting to wav", "input", filepath.Base(input))
	if err := sleep(ctx, e.ConvertDelay); err != nil {
		return "", err
	}
	if err := os.WriteFile(wav, nil, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return wav, nil
}

func (e *MockEngine) Transcribe(ctx context.Context, audio, language string, onProgress func(int)) (domain.Transcription, error) {
	if !e.loaded {
		return domain.Transcription{}, errors.New("model not loaded")
	}
	e.Logger.Info("running transcription", "audio", filepath.Base(audio), "language", language)

	step := e.TranscribeDelay / transcribeSteps
	for i := 1; i <= transcribeSteps; i++ {
		if err := sleep(ctx, step); err != nil {
			return domain.Transcription{}, err
		}
		onProgress(i)
		if i == transcribeSteps/2 {
			if err := e.failIf(domain.JobStatusRunning); err != nil {
				return domain.Transcription{}, err
			}
		}
	}
	return meetingTranscript(), nil
}

func (e *MockEngine) Cleanup() error {
	var errs []error
	for _, f := range e.tempFiles {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	e.tempFiles = nil
	e.loaded = false
	return errors.Join(errs...)
}

func (e *MockEngine) failIf(phase domain.JobStatus) error {
	if e.FailPhase != phase {
		return nil
	}
	if e.FailErr != nil {
		return e.FailErr
	}
	return fmt.Errorf("%s failed", strings.ToLower(string(phase)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func meetingTranscript() domain.Transcription {
	segments := []domain.TimestampEntry{
		{StartTime: 0.0, EndTime: 8.5, Text: "Welcome everyone to today's quarterly planning meeting. I'm Sarah, and I'll be leading today's discussion."},
		{StartTime: 8.5, EndTime: 22.0, Text: "First, let's review our Q3 results. We exceeded our revenue targets by 15%, which is a great achievement for the team. John, would you like to share the breakdown?"},
		{StartTime: 22.0, EndTime: 38.0, Text: "Thanks Sarah. So looking at the numbers, our enterprise segment grew by 22%, while the SMB segment showed steady 8% growth. The new product line we launched in August has been particularly successful."},
		{StartTime: 38.0, EndTime: 52.0, Text: "That's excellent news. Now let's discuss our Q4 priorities. We need to focus on three main areas: customer retention, product improvements, and expanding into new markets."},
		{StartTime: 52.0, EndTime: 68.0, Text: "I'd like to propose that we allocate additional resources to the customer success team. Based on our data, improving retention by just 5% would have a significant impact on our bottom line."},
		{StartTime: 68.0, EndTime: 82.0, Text: "Great point, Maria. Let's make that a priority. John, can you prepare a detailed proposal by next Friday?"},
		{StartTime: 82.0, EndTime: 86.0, Text: "Absolutely, I'll have that ready."},
		{StartTime: 86.0, EndTime: 98.0, Text: "Perfect. Let's also discuss the timeline for the new feature release. The engineering team estimates we can have the beta ready by mid-November."},
		{StartTime: 98.0, EndTime: 108.0, Text: "That works for our marketing timeline. We can coordinate the launch campaign accordingly."},
		{StartTime: 108.0, EndTime: 128.0, Text: "Excellent. To summarize, our action items are: John will prepare the retention proposal, marketing will draft the launch plan, and we'll reconvene next week to review progress."},
		{StartTime: 128.0, EndTime: 135.0, Text: "Thanks everyone for your time today. Meeting adjourned."},
	}
	paragraphs := make([]string, len(segments))
	for i, s := range segments {
		paragraphs[i] = s.Text
	}
	return domain.Transcription{
		Text:       strings.Join(paragraphs, "\n\n"),
		Timestamps: segments,
	}
}
