package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/idresolve/internal/model"
)

func newSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	q, err := NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	require.NoError(t, q.Migrate(context.Background()))
	return q
}

func TestSQLiteQueue_EnqueueAndPending(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	n, err := q.Enqueue(ctx, []string{"平安保险", "华夏基金"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.QueuePending, entries[0].Status)
	assert.Equal(t, 0, entries[0].Attempts)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestSQLiteQueue_EnqueueDedupesPending(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	n, err := q.Enqueue(ctx, []string{"平安保险", "平安保险", ""})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-enqueueing a pending name is a no-op.
	n, err = q.Enqueue(ctx, []string{"平安保险"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestSQLiteQueue_MarkResolved(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"平安保险"})
	require.NoError(t, err)

	entries, err := q.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, q.MarkResolved(ctx, entries[0].ID))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	// A resolved name can be enqueued again later.
	n, err := q.Enqueue(ctx, []string{"平安保险"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteQueue_MarkFailedAbandonsAtCap(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"华夏基金"})
	require.NoError(t, err)

	entries, err := q.Pending(ctx, 1)
	require.NoError(t, err)
	id := entries[0].ID

	// First failure: still pending with one attempt.
	require.NoError(t, q.MarkFailed(ctx, id, 2))
	entries, err = q.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	// Second failure hits the cap.
	require.NoError(t, q.MarkFailed(ctx, id, 2))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestDedupeNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupeNames([]string{"a", "", "b", "a"}))
	assert.Empty(t, dedupeNames(nil))
}
