package services

import (
	"errors"
	"sync"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/manthysbr/aule-transcribe/internal/core/ports"
)

const defaultChannelCapacity = 1024

var errReceiveTimeout = errors.New("status channel receive timed out")

// StatusChannel is the single delivery path from every worker relay (many
// producers) to the status listener (one consumer). Order is FIFO per producer.
type StatusChannel struct {
	messages  chan domain.StatusMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func NewStatusChannel(capacity int) *StatusChannel {
	if capacity <= 0 {
		capacity = defaultChannelCapacity
	}
	return &StatusChannel{
		messages: make(chan domain.StatusMessage, capacity),
		closed:   make(chan struct{}),
	}
}

// Sink returns the producer side handed to worker runtimes.
func (c *StatusChannel) Sink() ports.StatusSink {
	return c
}

// Send blocks while the buffer is full; it fails only once the channel is closed.
func (c *StatusChannel) Send(msg domain.StatusMessage) error {
	select {
	case <-c.closed:
		return domain.ErrChannelClosed
	default:
	}

	select {
	case c.messages <- msg:
		return nil
	case <-c.closed:
		return domain.ErrChannelClosed
	}
}

// Receive waits at most timeout for the next message.
func (c *StatusChannel) Receive(timeout time.Duration) (domain.StatusMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.messages:
		return msg, nil
	case <-c.closed:
		return domain.StatusMessage{}, domain.ErrChannelClosed
	case <-timer.C:
		return domain.StatusMessage{}, errReceiveTimeout
	}
}

// Close stops delivery. Messages still buffered are abandoned.
func (c *StatusChannel) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *StatusChannel) Len() int {
	return len(c.messages)
}
