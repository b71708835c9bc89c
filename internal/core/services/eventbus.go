package services

import (
	"log/slog"
	"sync"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

const subscriberBuffer = 100

type Event struct {
	JobID     domain.JobID
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

// EventBus fans job events out to in-process subscribers.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
	global []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			b.subs[jobID] = removeSub(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			close(ch)
		})
	}
	return ch, unsub
}

// SubscribeGlobal returns a channel that receives events for every job.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.global = append(b.global, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.global = removeSub(b.global, ch)
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends an event to the job's subscribers and to global subscribers.
// Full subscribers miss the event rather than block the publisher.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		b.offer(ch, e)
	}
	for _, ch := range b.global {
		b.offer(ch, e)
	}
}

func (b *EventBus) offer(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
	}
}

func removeSub(subs []chan Event, ch chan Event) []chan Event {
	for i, sub := range subs {
		if sub == ch {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
