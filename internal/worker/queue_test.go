package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	dropped []string
	failed  []string
}

func (o *recordingObserver) TaskDropped(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, name)
}

func (o *recordingObserver) TaskFailed(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, name)
}

func (o *recordingObserver) failures() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.failed...)
}

func testConfig() Config {
	return Config{
		NumWorkers:     2,
		QueueSize:      16,
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
		MaxRetryDelay:  5 * time.Millisecond,
		TaskTimeout:    time.Second,
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestQueue_RunsSubmittedTasks(t *testing.T) {
	q := NewQueue(testConfig(), discard(), nil)
	require.NoError(t, q.Start(context.Background()))

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		require.True(t, q.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	require.NoError(t, q.Stop(context.Background()))
	require.EqualValues(t, 10, ran.Load(), "stop drains queued work")
}

func TestQueue_RetriesThenReportsFailure(t *testing.T) {
	obs := &recordingObserver{}
	q := NewQueue(testConfig(), discard(), obs)
	require.NoError(t, q.Start(context.Background()))

	var attempts atomic.Int64
	q.Submit("flaky", func(context.Context) error {
		attempts.Add(1)
		return errors.New("still down")
	})
	require.NoError(t, q.Stop(context.Background()))

	require.EqualValues(t, 3, attempts.Load())
	require.Equal(t, []string{"flaky"}, obs.failures())
}

func TestQueue_RecoversFromPanics(t *testing.T) {
	obs := &recordingObserver{}
	cfg := testConfig()
	cfg.MaxRetries = 0
	q := NewQueue(cfg, discard(), obs)
	require.NoError(t, q.Start(context.Background()))

	q.Submit("boom", func(context.Context) error { panic("boom") })
	var after atomic.Bool
	q.Submit("after", func(context.Context) error {
		after.Store(true)
		return nil
	})
	require.NoError(t, q.Stop(context.Background()))

	require.True(t, after.Load())
	require.Equal(t, []string{"boom"}, obs.failures())
}

func TestQueue_SubmitNeverBlocks(t *testing.T) {
	obs := &recordingObserver{}
	cfg := testConfig()
	cfg.NumWorkers = 1
	cfg.QueueSize = 1
	q := NewQueue(cfg, discard(), obs)

	require.False(t, q.Submit("early", func(context.Context) error { return nil }), "not started")

	require.NoError(t, q.Start(context.Background()))
	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit("hold", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	require.True(t, q.Submit("queued", func(context.Context) error { return nil }))
	require.False(t, q.Submit("overflow", func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, q.Stop(context.Background()))
	require.False(t, q.Submit("late", func(context.Context) error { return nil }))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, []string{"early", "overflow", "late"}, obs.dropped)
}

func TestQueue_StartTwice(t *testing.T) {
	q := NewQueue(testConfig(), discard(), nil)
	require.NoError(t, q.Start(context.Background()))
	require.Error(t, q.Start(context.Background()))
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_Backoff(t *testing.T) {
	q := NewQueue(Config{BaseRetryDelay: 100 * time.Millisecond, MaxRetryDelay: 300 * time.Millisecond}, discard(), nil)
	require.Equal(t, 100*time.Millisecond, q.backoff(1))
	require.Equal(t, 200*time.Millisecond, q.backoff(2))
	require.Equal(t, 300*time.Millisecond, q.backoff(3))
}
