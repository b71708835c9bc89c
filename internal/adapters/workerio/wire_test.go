package workerio

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	msgs   []domain.StatusMessage
	closed bool
}

func (s *recordingSink) Send(msg domain.StatusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrChannelClosed
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitterRelayRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	em := NewEmitter(&buf, "job-1")

	require.NoError(t, em.Emit(domain.StatusMessage{Status: domain.JobStatusLoading, Progress: 10, Message: "Loading Whisper model..."}))
	require.NoError(t, em.Emit(domain.FailedMessage("ignored-id", "boom")))

	sink := &recordingSink{}
	require.NoError(t, Relay(&buf, "job-1", sink, testLogger()))

	require.Len(t, sink.msgs, 2)
	assert.Equal(t, domain.JobID("job-1"), sink.msgs[0].JobID)
	assert.Equal(t, domain.JobStatusLoading, sink.msgs[0].Status)
	assert.Equal(t, domain.JobID("job-1"), sink.msgs[1].JobID)
	require.NotNil(t, sink.msgs[1].Error)
	assert.Equal(t, "boom", *sink.msgs[1].Error)
}

func TestRelaySkipsMalformedAndForeignLines(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		``,
		`{"job_id":"other","status":"RUNNING","progress":50,"message":"x"}`,
		`{"job_id":"job-1","status":"RUNNING","progress":50,"message":"Transcribing audio..."}`,
	}, "\n")

	sink := &recordingSink{}
	require.NoError(t, Relay(strings.NewReader(input), "job-1", sink, testLogger()))

	require.Len(t, sink.msgs, 1)
	assert.Equal(t, 50, sink.msgs[0].Progress)
}

func TestRelayDrainsAfterSinkClosed(t *testing.T) {
	input := `{"job_id":"job-1","status":"RUNNING","progress":50,"message":"a"}` + "\n" +
		`{"job_id":"job-1","status":"RUNNING","progress":60,"message":"b"}` + "\n"

	sink := &recordingSink{closed: true}
	r := strings.NewReader(input)
	require.NoError(t, Relay(r, "job-1", sink, testLogger()))

	assert.Empty(t, sink.msgs)
	assert.Zero(t, r.Len())
}

func TestArgsRoundTrip(t *testing.T) {
	spec := domain.WorkerSpec{
		JobID:        "abc",
		InputRef:     "/data/in put.mp4",
		DisplayName:  "in put.mp4",
		LanguageHint: "pt",
		WorkspaceDir: "/tmp/ws",
		ModelSize:    "small",
	}

	got, err := DecodeArgs(EncodeArgs(spec), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}

func TestDecodeArgsDefaults(t *testing.T) {
	got, err := DecodeArgs([]string{"--job-id=abc", "--input=/v.mp4"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/v.mp4", got.DisplayName)
	assert.Equal(t, "base", got.ModelSize)
	assert.Empty(t, got.LanguageHint)
}

func TestDecodeArgsRequiresJobAndInput(t *testing.T) {
	_, err := DecodeArgs([]string{"--input=/v.mp4"}, io.Discard)
	assert.Error(t, err)

	_, err = DecodeArgs([]string{"--job-id=abc"}, io.Discard)
	assert.Error(t, err)
}
