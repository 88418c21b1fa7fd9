package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/folder-mcp/folder-mcp-daemon/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// immediateAfterFunc runs the callback synchronously instead of scheduling
// it on a wall-clock timer, so backoff tests don't sleep.
func immediateAfterFunc(d time.Duration, f func()) *time.Timer {
	f()
	return time.NewTimer(0)
}

func TestFIFOOrdering(t *testing.T) {
	q := queue.New(4, 3)
	id1 := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)
	id2 := q.Enqueue("f1", "b.txt", queue.ActionCreateEmbeddings)

	next, ok := q.GetNextPending()
	require.True(t, ok)
	assert.Equal(t, id1, next)

	next, ok = q.GetNextPending()
	require.True(t, ok)
	assert.Equal(t, id2, next)

	_, ok = q.GetNextPending()
	assert.False(t, ok)
}

func TestConcurrencyCapEnforced(t *testing.T) {
	q := queue.New(1, 3)
	id1 := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)
	q.Enqueue("f1", "b.txt", queue.ActionCreateEmbeddings)

	require.True(t, q.StartTask(id1))
	assert.Equal(t, 1, q.InFlightCount())

	_, ok := q.GetNextPending()
	assert.False(t, ok, "second task must not be eligible while the cap is reached")

	q.CompleteTask(id1, queue.Result{})
	next, ok := q.GetNextPending()
	require.True(t, ok)
	assert.NotEqual(t, id1, next)
}

func TestEnqueueIsIdempotentOnKey(t *testing.T) {
	q := queue.New(4, 3)
	id1 := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)
	id2 := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)

	assert.Equal(t, id1, id2, "re-enqueuing the same (folder, path, action) while pending must not duplicate")
	assert.Len(t, q.Snapshot(), 1)
}

func TestEnqueueWhileInFlightLeavesTaskRunningAndRequeuesAfter(t *testing.T) {
	q := queue.New(4, 3)
	id := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)
	require.True(t, q.StartTask(id))

	// A change arrives while the task is in flight.
	again := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)
	assert.Equal(t, id, again, "in-flight task keeps its identity; no second entry is created")
	assert.Len(t, q.Snapshot(), 1)

	q.CompleteTask(id, queue.Result{})

	total, completed := q.Counts()
	assert.Equal(t, 1, total, "the requeue replaces the original task rather than creating a new one")
	assert.Equal(t, 0, completed, "the requeued task is pending again, not completed")
}

func TestBackoffRetriesThenSucceeds(t *testing.T) {
	q := queue.New(4, 3, queue.WithAfterFunc(immediateAfterFunc))
	id := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)

	require.True(t, q.StartTask(id))
	q.CompleteTask(id, queue.Result{Err: errors.New("transient")})

	next, ok := q.GetNextPending()
	require.True(t, ok, "a failed task under maxAttempts is requeued")
	assert.Equal(t, id, next)

	require.True(t, q.StartTask(id))
	q.CompleteTask(id, queue.Result{Err: errors.New("transient again")})

	next, ok = q.GetNextPending()
	require.True(t, ok)
	require.True(t, q.StartTask(next))
	q.CompleteTask(next, queue.Result{})

	total, completed := q.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, completed)

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, queue.StatusDone, snap[0].Status)
	assert.Equal(t, 3, snap[0].Attempts)
}

func TestPermanentFailureAfterMaxAttempts(t *testing.T) {
	q := queue.New(4, 2, queue.WithAfterFunc(immediateAfterFunc))
	id := q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)

	require.True(t, q.StartTask(id))
	q.CompleteTask(id, queue.Result{Err: errors.New("fail 1")})

	next, ok := q.GetNextPending()
	require.True(t, ok)
	require.True(t, q.StartTask(next))
	q.CompleteTask(next, queue.Result{Err: errors.New("fail 2")})

	_, ok = q.GetNextPending()
	assert.False(t, ok, "a task at maxAttempts must not be requeued again")
	assert.True(t, q.AllTerminal())

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, queue.StatusError, snap[0].Status)
	assert.Equal(t, "fail 2", snap[0].LastError)
}

func TestReset(t *testing.T) {
	q := queue.New(4, 3)
	q.Enqueue("f1", "a.txt", queue.ActionCreateEmbeddings)
	q.Reset()
	assert.Empty(t, q.Snapshot())
	_, ok := q.GetNextPending()
	assert.False(t, ok)
}
