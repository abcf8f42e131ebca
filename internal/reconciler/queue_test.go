package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueFIFO(t *testing.T) {
	q := newWorkQueue()
	defer q.Shutdown()

	q.Add(ReconcileRequest{Identity: "a", Attempt: 1})
	q.Add(ReconcileRequest{Identity: "b", Attempt: 1})

	ctx := context.Background()

	first, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", first.Identity)

	second, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", second.Identity)
}

func TestWorkQueueDeduplicatesQueuedIdentity(t *testing.T) {
	q := newWorkQueue()
	defer q.Shutdown()

	q.Add(ReconcileRequest{Identity: "a", Attempt: 1})
	q.Add(ReconcileRequest{Identity: "a", Attempt: 3})

	assert.Equal(t, 1, q.Len())

	req, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3, req.Attempt)
	assert.Equal(t, 0, q.Len())
}

func TestWorkQueueDirtyReprocessing(t *testing.T) {
	q := newWorkQueue()
	defer q.Shutdown()

	q.Add(ReconcileRequest{Identity: "a", Attempt: 1})

	req, ok := q.Get(context.Background())
	require.True(t, ok)

	// Identity changes while in flight: it must be requeued on Done.
	q.Add(ReconcileRequest{Identity: "a", Attempt: 1})
	assert.Equal(t, 0, q.Len())

	q.Done(req)
	assert.Equal(t, 1, q.Len())
}

func TestWorkQueueGetBlocksUntilAdd(t *testing.T) {
	q := newWorkQueue()
	defer q.Shutdown()

	got := make(chan ReconcileRequest, 1)
	go func() {
		req, ok := q.Get(context.Background())
		if ok {
			got <- req
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Add(ReconcileRequest{Identity: "a", Attempt: 1})

	select {
	case req := <-got:
		assert.Equal(t, "a", req.Identity)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up after Add")
	}
}

func TestWorkQueueGetHonorsContextCancellation(t *testing.T) {
	q := newWorkQueue()
	defer q.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after context cancellation")
	}
}

func TestWorkQueueShutdownDrains(t *testing.T) {
	q := newWorkQueue()

	q.Add(ReconcileRequest{Identity: "a", Attempt: 1})
	q.Shutdown()

	// Queued items remain retrievable after shutdown.
	req, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", req.Identity)

	_, ok = q.Get(context.Background())
	assert.False(t, ok)

	// New adds are rejected.
	q.Add(ReconcileRequest{Identity: "b", Attempt: 1})
	assert.Equal(t, 0, q.Len())
}

func TestDelayedQueueAddAfter(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()

	q.AddAfter(ReconcileRequest{Identity: "a", Attempt: 2}, 20*time.Millisecond)
	assert.Equal(t, 0, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", req.Identity)
	assert.Equal(t, 2, req.Attempt)
}

func TestDelayedQueueReplacesPendingTimer(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()

	q.AddAfter(ReconcileRequest{Identity: "a", Attempt: 2}, time.Hour)
	q.AddAfter(ReconcileRequest{Identity: "a", Attempt: 5}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, 5, req.Attempt)
	assert.Equal(t, 0, q.Len())
}

func TestDelayedQueueShutdownCancelsTimers(t *testing.T) {
	q := newDelayedQueue()

	q.AddAfter(ReconcileRequest{Identity: "a", Attempt: 1}, 10*time.Millisecond)
	q.Shutdown()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, q.Len())
}
