// Package workerio is the wire between a worker and the supervisor: the worker
// writes one JSON status message per line on stdout, the supervisor relays
// each line into the status channel.
package workerio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
)

const maxLineBytes = 4 << 20

// Emitter writes status messages as JSON lines. Safe for concurrent use.
type Emitter struct {
	jobID domain.JobID

	mu  sync.Mutex
	enc *json.Encoder
}

func NewEmitter(w io.Writer, jobID domain.JobID) *Emitter {
	return &Emitter{jobID: jobID, enc: json.NewEncoder(w)}
}

// Emit stamps msg with the emitter's job id and writes it.
func (e *Emitter) Emit(msg domain.StatusMessage) error {
	msg.JobID = e.jobID
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("emit %s: %w", msg.Status, err)
	}
	return nil
}

// Relay reads JSON lines from r and forwards the ones that belong to jobID.
// Malformed or foreign lines are logged and skipped. It returns when r is
// exhausted or the sink is closed; in the latter case r is drained so the
// worker never blocks on a full pipe.
func Relay(r io.Reader, jobID domain.JobID, sink ports.StatusSink, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg domain.StatusMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("skipping malformed worker output", "job_id", jobID, "line", lineNo, "error", err)
			continue
		}
		if msg.JobID != jobID {
			logger.Warn("skipping worker output for another job", "job_id", jobID, "line", lineNo, "got", msg.JobID)
			continue
		}
		if err := sink.Send(msg); err != nil {
			if errors.Is(err, domain.ErrChannelClosed) {
				_, _ = io.Copy(io.Discard, r)
				return nil
			}
			return fmt.Errorf("relay %s: %w", jobID, err)
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read worker output: %w", err)
	}
	return nil
}
