package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/aule-transcribe/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobScheduler_UnboundedLaunchesInline(t *testing.T) {
	scheduler := NewJobScheduler(testLogger(), SchedulerConfig{})
	defer scheduler.Stop()

	var launched atomic.Int32
	for i := 0; i < 5; i++ {
		started, err := scheduler.Schedule(context.Background(), domain.JobID(fmt.Sprintf("job-%d", i)), func(context.Context) error {
			launched.Add(1)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, started)
	}
	assert.Equal(t, int32(5), launched.Load())
	assert.Equal(t, 5, scheduler.Holding())
}

func TestJobScheduler_ConcurrencyLimit(t *testing.T) {
	scheduler := NewJobScheduler(testLogger(), SchedulerConfig{MaxConcurrentWorkers: 2})
	defer scheduler.Stop()

	var launched atomic.Int32
	launch := func(context.Context) error {
		launched.Add(1)
		return nil
	}

	for i := 0; i < 4; i++ {
		_, err := scheduler.Schedule(context.Background(), domain.JobID(fmt.Sprintf("job-%d", i)), launch)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), launched.Load())
	assert.Equal(t, 2, scheduler.Waiting())

	scheduler.Done("job-0")
	require.Eventually(t, func() bool { return launched.Load() == 3 }, time.Second, 5*time.Millisecond)

	scheduler.Done("job-1")
	require.Eventually(t, func() bool { return launched.Load() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, scheduler.Waiting())
	assert.Equal(t, 2, scheduler.Holding())
}

func TestJobScheduler_AbandonWaitingJob(t *testing.T) {
	scheduler := NewJobScheduler(testLogger(), SchedulerConfig{MaxConcurrentWorkers: 1})
	defer scheduler.Stop()

	_, err := scheduler.Schedule(context.Background(), "first", func(context.Context) error { return nil })
	require.NoError(t, err)

	var launched atomic.Bool
	started, err := scheduler.Schedule(context.Background(), "second", func(context.Context) error {
		launched.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, started)

	scheduler.Abandon("second")
	scheduler.Done("first")

	require.Eventually(t, func() bool { return scheduler.Waiting() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, launched.Load())

	// The slot came back: a new job launches inline.
	started, err = scheduler.Schedule(context.Background(), "third", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, started)
}

func TestJobScheduler_FailedLaunchFreesSlot(t *testing.T) {
	scheduler := NewJobScheduler(testLogger(), SchedulerConfig{MaxConcurrentWorkers: 1})
	defer scheduler.Stop()

	boom := errors.New("boom")
	_, err := scheduler.Schedule(context.Background(), "a", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, scheduler.Holding())

	started, err := scheduler.Schedule(context.Background(), "b", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, started)
}

func TestJobScheduler_RejectsDuplicatesAndStopped(t *testing.T) {
	scheduler := NewJobScheduler(testLogger(), SchedulerConfig{})

	_, err := scheduler.Schedule(context.Background(), "a", func(context.Context) error { return nil })
	require.NoError(t, err)

	_, err = scheduler.Schedule(context.Background(), "a", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrWorkerExists)

	scheduler.Done("a")
	scheduler.Done("a")
	assert.Equal(t, 0, scheduler.Holding())

	scheduler.Stop()
	_, err = scheduler.Schedule(context.Background(), "b", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrShutdown)
}
