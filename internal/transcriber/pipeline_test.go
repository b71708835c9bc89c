package transcriber

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/adapters/workerio"
	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu   sync.Mutex
	msgs []domain.StatusMessage
}

func (r *recordingEmitter) Emit(msg domain.StatusMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingEmitter) last() domain.StatusMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec(t *testing.T) domain.WorkerSpec {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "meeting.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0o644))
	return domain.WorkerSpec{
		JobID:        "job-1",
		InputRef:     input,
		DisplayName:  "meeting.mp4",
		WorkspaceDir: dir,
		ModelSize:    "base",
	}
}

func fastEngine(spec domain.WorkerSpec) *MockEngine {
	e := NewMockEngine(quietLogger(), spec)
	e.LoadDelay, e.ConvertDelay, e.TranscribeDelay = 0, 0, 0
	return e
}

func TestPipelineCompletes(t *testing.T) {
	spec := testSpec(t)
	em := &recordingEmitter{}

	final := NewPipeline(quietLogger(), fastEngine(spec), em).Run(context.Background(), spec)

	require.Equal(t, domain.JobStatusCompleted, final.Status)
	require.GreaterOrEqual(t, len(em.msgs), 4)
	assert.Equal(t, domain.StatusMessage{JobID: "job-1", Status: domain.JobStatusLoading, Progress: 10, Message: "Loading Whisper model..."}, em.msgs[0])
	assert.Equal(t, domain.StatusMessage{JobID: "job-1", Status: domain.JobStatusConverting, Progress: 30, Message: "Converting audio with ffmpeg..."}, em.msgs[1])
	assert.Equal(t, domain.StatusMessage{JobID: "job-1", Status: domain.JobStatusRunning, Progress: 50, Message: "Transcribing audio..."}, em.msgs[2])

	prev := 50
	for _, m := range em.msgs[3 : len(em.msgs)-1] {
		assert.Equal(t, domain.JobStatusRunning, m.Status)
		assert.GreaterOrEqual(t, m.Progress, prev)
		assert.LessOrEqual(t, m.Progress, 90)
		prev = m.Progress
	}
	assert.Equal(t, 90, prev)

	last := em.last()
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "Transcription complete!", last.Message)
	require.NotNil(t, last.Result)
	assert.Equal(t, "meeting.mp4", last.Result.VideoFilename)
	assert.NotEmpty(t, last.Result.Timestamps)
	assert.Nil(t, last.Error)
	assert.NoError(t, last.Validate())

	assert.NoFileExists(t, filepath.Join(spec.WorkspaceDir, "meeting.wav"))
}

func TestPipelineFailsWithRawCause(t *testing.T) {
	spec := testSpec(t)
	engine := fastEngine(spec)
	engine.FailPhase = domain.JobStatusConverting
	engine.FailErr = errors.New("X")
	em := &recordingEmitter{}

	final := NewPipeline(quietLogger(), engine, em).Run(context.Background(), spec)

	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Equal(t, 0, final.Progress)
	assert.Equal(t, "Transcription failed: X", final.Message)
	require.NotNil(t, final.Error)
	assert.Equal(t, "X", *final.Error)
	assert.Nil(t, final.Result)
	assert.Len(t, em.msgs, 3)
}

func TestPipelineFailsOnMissingInput(t *testing.T) {
	spec := testSpec(t)
	spec.InputRef = filepath.Join(spec.WorkspaceDir, "missing.mp4")
	em := &recordingEmitter{}

	final := NewPipeline(quietLogger(), fastEngine(spec), em).Run(context.Background(), spec)

	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Contains(t, *final.Error, "input not readable")
}

type panickingEngine struct{ MockEngine }

func (panickingEngine) LoadModel(context.Context) error { panic("boom") }

func TestPipelineContainsPanics(t *testing.T) {
	spec := testSpec(t)
	em := &recordingEmitter{}

	final := NewPipeline(quietLogger(), &panickingEngine{*fastEngine(spec)}, em).Run(context.Background(), spec)

	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Equal(t, "boom", *final.Error)
}

func TestPipelineInterrupted(t *testing.T) {
	spec := testSpec(t)
	engine := fastEngine(spec)
	engine.TranscribeDelay = time.Minute
	em := &recordingEmitter{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	final := NewPipeline(quietLogger(), engine, em).Run(ctx, spec)

	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.Equal(t, "worker interrupted", *final.Error)
}

type stuckCleanupEngine struct{ MockEngine }

func (stuckCleanupEngine) Cleanup() error {
	time.Sleep(time.Minute)
	return nil
}

func TestPipelineCleanupIsBounded(t *testing.T) {
	spec := testSpec(t)
	em := &recordingEmitter{}
	p := NewPipeline(quietLogger(), &stuckCleanupEngine{*fastEngine(spec)}, em)
	p.cleanupTimeout = 50 * time.Millisecond

	start := time.Now()
	final := p.Run(context.Background(), spec)

	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestMapSubProgress(t *testing.T) {
	cases := map[int]int{-5: 50, 0: 50, 1: 50, 3: 51, 25: 60, 50: 70, 99: 89, 100: 90, 150: 90}
	for sub, want := range cases {
		assert.Equal(t, want, MapSubProgress(sub), "sub=%d", sub)
	}
}

func TestRunWorkerWritesStatusLines(t *testing.T) {
	spec := testSpec(t)
	var stdout bytes.Buffer

	code := RunWorker(context.Background(), workerio.EncodeArgs(spec), &stdout, io.Discard, quietLogger(),
		func(s domain.WorkerSpec) Engine { return fastEngine(s) })
	require.Equal(t, 0, code)

	var statuses []domain.JobStatus
	sc := bufio.NewScanner(&stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var msg domain.StatusMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &msg))
		assert.Equal(t, domain.JobID("job-1"), msg.JobID)
		statuses = append(statuses, msg.Status)
	}
	require.NotEmpty(t, statuses)
	assert.Equal(t, domain.JobStatusLoading, statuses[0])
	assert.Equal(t, domain.JobStatusCompleted, statuses[len(statuses)-1])
}

func TestRunWorkerRejectsBadArgs(t *testing.T) {
	var stdout bytes.Buffer
	code := RunWorker(context.Background(), []string{"--input=/x.mp4"}, &stdout, io.Discard, quietLogger(),
		func(s domain.WorkerSpec) Engine { return fastEngine(s) })

	assert.Equal(t, 2, code)
	assert.Zero(t, stdout.Len())
}

// scriptedEngine reports a fixed sequence of sub-progress values.
type scriptedEngine struct {
	subs []int
}

func (e *scriptedEngine) LoadModel(context.Context) error { return nil }

func (e *scriptedEngine) Convert(_ context.Context, input string) (string, error) {
	return input, nil
}

func (e *scriptedEngine) Transcribe(_ context.Context, _, _ string, onProgress func(int)) (domain.Transcription, error) {
	for _, sub := range e.subs {
		onProgress(sub)
	}
	return domain.Transcription{Text: "ok"}, nil
}

func (e *scriptedEngine) Cleanup() error { return nil }

func TestPipelineReportsLatestSubProgress(t *testing.T) {
	spec := testSpec(t)
	em := &recordingEmitter{}

	NewPipeline(quietLogger(), &scriptedEngine{subs: []int{10, 11, 11, 12, 150}}, em).Run(context.Background(), spec)

	require.Len(t, em.msgs, 3+4+1)
	running := em.msgs[3:7]
	want := []struct {
		progress int
		message  string
	}{
		{54, "Transcribing audio... 10%"},
		{54, "Transcribing audio... 11%"},
		{54, "Transcribing audio... 12%"},
		{90, "Transcribing audio... 100%"},
	}
	for i, w := range want {
		assert.Equal(t, domain.JobStatusRunning, running[i].Status)
		assert.Equal(t, w.progress, running[i].Progress)
		assert.Equal(t, w.message, running[i].Message)
	}
	assert.Equal(t, domain.JobStatusCompleted, em.last().Status)
}
