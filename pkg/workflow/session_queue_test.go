package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionQueue_RunsSubmittedSessions(t *testing.T) {
	var mu sync.Mutex
	ran := map[string]bool{}
	var wg sync.WaitGroup
	wg.Add(3)

	q, err := NewSessionQueue(SessionQueueConfig{MaxConcurrent: 2, QueueSize: 4}, func(ctx context.Context, id string) error {
		defer wg.Done()
		mu.Lock()
		ran[id] = true
		mu.Unlock()
		return nil
	}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Submit(ctx, id))
	}

	wg.Wait()
	require.NoError(t, q.Stop(ctx))

	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, ran)
}

func TestSessionQueue_CancelRunningSession(t *testing.T) {
	started := make(chan struct{})
	result := make(chan error, 1)

	q, err := NewSessionQueue(SessionQueueConfig{MaxConcurrent: 1}, func(ctx context.Context, id string) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(ctx) //nolint:errcheck

	require.NoError(t, q.Submit(ctx, "s1"))
	<-started
	assert.True(t, q.IsActive("s1"))
	assert.True(t, q.Cancel("s1"))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("session was not cancelled")
	}

	assert.Eventually(t, func() bool { return !q.IsActive("s1") }, time.Second, 5*time.Millisecond)
	assert.False(t, q.Cancel("s1"))
}

func TestSessionQueue_RejectsDuplicatesAndOverflow(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)

	q, err := NewSessionQueue(SessionQueueConfig{MaxConcurrent: 1, QueueSize: 1}, func(ctx context.Context, id string) error {
		started <- struct{}{}
		<-block
		return nil
	}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))

	require.NoError(t, q.Submit(ctx, "running"))
	<-started
	require.NoError(t, q.Submit(ctx, "queued"))

	assert.ErrorIs(t, q.Submit(ctx, "queued"), ErrAlreadyQueued)
	assert.ErrorIs(t, q.Submit(ctx, "overflow"), ErrQueueFull)
	assert.False(t, q.IsActive("overflow"))

	close(block)
	require.NoError(t, q.Stop(ctx))
	assert.ErrorIs(t, q.Submit(ctx, "late"), ErrQueueNotRunning)
}

func TestSessionQueue_StopCancelsInFlight(t *testing.T) {
	var cancelled atomic.Int32
	started := make(chan struct{})

	q, err := NewSessionQueue(SessionQueueConfig{MaxConcurrent: 1, QueueSize: 2}, func(ctx context.Context, id string) error {
		if id == "first" {
			close(started)
		}
		<-ctx.Done()
		cancelled.Add(1)
		return nil
	}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Submit(ctx, "first"))
	require.NoError(t, q.Submit(ctx, "second"))
	<-started

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))

	assert.Equal(t, int32(2), cancelled.Load())
}

func TestSessionQueue_HandlerPanicIsRecovered(t *testing.T) {
	done := make(chan struct{})
	q, err := NewSessionQueue(SessionQueueConfig{MaxConcurrent: 1}, func(ctx context.Context, id string) error {
		if id == "panic" {
			panic("boom")
		}
		close(done)
		return errors.New("ordinary failure")
	}, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	require.NoError(t, q.Submit(ctx, "panic"))
	require.NoError(t, q.Submit(ctx, "after"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	require.NoError(t, q.Stop(ctx))
}

func TestSessionQueue_Lifecycle(t *testing.T) {
	_, err := NewSessionQueue(SessionQueueConfig{}, nil, nil, nil)
	assert.Error(t, err)

	q, err := NewSessionQueue(SessionQueueConfig{}, func(context.Context, string) error { return nil }, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, q.Stop(ctx))
	require.NoError(t, q.Start(ctx))
	assert.Error(t, q.Start(ctx))

	stats := q.Stats()
	assert.Equal(t, true, stats["running"])
	assert.Equal(t, 4, stats["workers"])

	require.NoError(t, q.Stop(ctx))
}
