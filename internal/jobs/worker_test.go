package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_EnqueueAsyncTracksFailures(t *testing.T) {
	w := NewWorker(1)

	var ran atomic.Int32
	w.EnqueueAsync("ok", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	w.EnqueueAsync("email", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("sink down")
	})
	w.EnqueueAsync("pubsub", func(ctx context.Context) error {
		ran.Add(1)
		panic("boom")
	})

	w.Shutdown()

	stats := w.GetStats()
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, int64(3), stats.CompletedJobs)
	assert.Equal(t, int64(2), stats.FailedJobs)
	assert.Equal(t, 0, stats.ActiveJobs)
	assert.Equal(t, map[string]int64{"email": 1, "pubsub": 1}, stats.FailuresByJob)
	require.NotNil(t, stats.LastFailure)
}

func TestWorker_EnqueueRunsOnPool(t *testing.T) {
	w := NewWorker(2)
	done := make(chan struct{})

	w.Enqueue("verify", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	w.Shutdown()
}

func TestWorker_FullQueueRunsInline(t *testing.T) {
	w := NewWorker(1, WithQueueSize(1))
	defer w.Shutdown()

	release := make(chan struct{})
	w.Enqueue("blocker", func(ctx context.Context) error {
		<-release
		return nil
	})

	var inline atomic.Bool
	// The single processor is stuck on the blocker or the queue still holds
	// it, so by the third job the queue is full.
	w.Enqueue("filler", func(ctx context.Context) error { return nil })
	w.Enqueue("overflow", func(ctx context.Context) error {
		inline.Store(true)
		return nil
	})
	assert.True(t, inline.Load())
	close(release)
}

func TestWorker_JobTimeout(t *testing.T) {
	w := NewWorker(1, WithJobTimeout(20*time.Millisecond))

	w.EnqueueAsync("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Eventually(t, func() bool { return w.GetStats().FailedJobs == 1 }, time.Second, 5*time.Millisecond)
	w.Shutdown()

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.FailuresByJob["slow"])
	require.NotNil(t, stats.LastFailure)
	assert.Equal(t, context.DeadlineExceeded.Error(), stats.LastFailure.Error)
}

func TestWorker_ScheduleEveryStopsOnShutdown(t *testing.T) {
	w := NewWorker(1)
	var runs atomic.Int32

	w.ScheduleEvery("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	w.Shutdown()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}
