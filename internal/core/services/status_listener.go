package services

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

const defaultListenerPoll = 200 * time.Millisecond

// StatusListener drains the status channel and applies worker updates to the
// job store. It is the only writer for worker-originated changes.
type StatusListener struct {
	logger     *slog.Logger
	store      *JobStore
	channel    *StatusChannel
	onTerminal func(domain.JobID)
	poll       time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

func NewStatusListener(logger *slog.Logger, store *JobStore, channel *StatusChannel, poll time.Duration, onTerminal func(domain.JobID)) *StatusListener {
	if poll <= 0 {
		poll = defaultListenerPoll
	}
	if onTerminal == nil {
		onTerminal = func(domain.JobID) {}
	}
	return &StatusListener{
		logger:     logger,
		store:      store,
		channel:    channel,
		onTerminal: onTerminal,
		poll:       poll,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the consumer loop. Calling it again is a no-op.
func (l *StatusListener) Start() {
	l.startOnce.Do(func() {
		l.started.Store(true)
		l.logger.Info("status listener started")
		go l.run()
	})
}

// Stop ends the loop and waits for it to exit. Workers are not touched.
func (l *StatusListener) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	if l.started.Load() {
		<-l.done
	}
}

func (l *StatusListener) Running() bool {
	if !l.started.Load() {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *StatusListener) run() {
	defer close(l.done)
	defer l.logger.Info("status listener stopped")

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		msg, err := l.channel.Receive(l.poll)
		if err != nil {
			if errors.Is(err, domain.ErrChannelClosed) {
				return
			}
			continue
		}
		l.handle(msg)
	}
}

func (l *StatusListener) handle(msg domain.StatusMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("status message handler panicked", "job_id", msg.JobID, "panic", r)
		}
	}()

	if err := msg.Validate(); err != nil {
		l.logger.Warn("dropping status message", "job_id", msg.JobID, "error", err)
		return
	}

	outcome := l.store.apply(msg)
	switch outcome {
	case applyAccepted:
		l.logger.Debug("job updated",
			"job_id", msg.JobID, "status", msg.Status, "progress", msg.Progress, "message", msg.Message)
		if msg.Status.IsTerminal() {
			l.onTerminal(msg.JobID)
		}
	case applyMissing:
		l.logger.Debug("status message for unknown job ignored", "job_id", msg.JobID, "status", msg.Status)
	case applyCancelled:
		l.logger.Debug("status message for cancelled job discarded", "job_id", msg.JobID, "status", msg.Status)
	case applyTerminal:
		l.logger.Debug("status message after terminal status ignored", "job_id", msg.JobID, "status", msg.Status)
	}
}
