package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

const defaultWatchInterval = 250 * time.Millisecond

// ProgressSource is the read side of the orchestrator a watcher polls.
type ProgressSource interface {
	GetVersion(id domain.JobID) int64
	GetProgress(id domain.JobID) (domain.ProgressView, bool)
}

// ProgressWatcher turns version polling into status events on the bus.
type ProgressWatcher struct {
	logger   *slog.Logger
	source   ProgressSource
	bus      *EventBus
	interval time.Duration
}

func NewProgressWatcher(logger *slog.Logger, source ProgressSource, bus *EventBus, interval time.Duration) *ProgressWatcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &ProgressWatcher{
		logger:   logger,
		source:   source,
		bus:      bus,
		interval: interval,
	}
}

// Watch publishes a status event each time the job's version changes. It
// returns the last view once the job is terminal, or an error if the job
// disappears or ctx ends first.
func (w *ProgressWatcher) Watch(ctx context.Context, id domain.JobID) (domain.ProgressView, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := int64(-2)
	for {
		version := w.source.GetVersion(id)
		if version < 0 {
			return domain.ProgressView{}, fmt.Errorf("watch %s: %w", id, domain.ErrJobNotFound)
		}

		if version != last {
			view, ok := w.source.GetProgress(id)
			if !ok {
				return domain.ProgressView{}, fmt.Errorf("watch %s: %w", id, domain.ErrJobNotFound)
			}
			last = version
			w.publish(view)
			if view.Status.IsTerminal() {
				return view, nil
			}
		}

		select {
		case <-ctx.Done():
			return domain.ProgressView{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ProgressWatcher) publish(view domain.ProgressView) {
	data, err := json.Marshal(view)
	if err != nil {
		w.logger.Error("failed to encode progress view", "job_id", view.ID, "error", err)
		return
	}
	w.bus.Publish(Event{
		JobID:     view.ID,
		Type:      EventTypeStatus,
		Data:      string(data),
		Timestamp: time.Now().UnixMilli(),
	})
}
