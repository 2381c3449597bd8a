package queue

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockQueue(t *testing.T) (pgxmock.PgxPoolIface, *PostgresQueue) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgres(mock)
}

func TestPostgresQueue_Enqueue(t *testing.T) {
	mock, q := newMockQueue(t)

	mock.ExpectExec("INSERT INTO enrichment_queue").
		WithArgs([]string{"平安保险", "华夏基金"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := q.Enqueue(context.Background(), []string{"平安保险", "华夏基金", "平安保险"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_EnqueueEmpty(t *testing.T) {
	mock, q := newMockQueue(t)
	n, err := q.Enqueue(context.Background(), []string{"", ""})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Pending(t *testing.T) {
	mock, q := newMockQueue(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, normalized_name").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "normalized_name", "enqueued_at", "attempts", "status"}).
			AddRow("id-1", "平安保险", now, 0, "pending"))

	entries, err := q.Pending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "平安保险", entries[0].NormalizedName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_MarkFailed(t *testing.T) {
	mock, q := newMockQueue(t)

	mock.ExpectExec("UPDATE enrichment_queue").
		WithArgs("id-1", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.MarkFailed(context.Background(), "id-1", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Depth(t *testing.T) {
	mock, q := newMockQueue(t)

	mock.ExpectQuery("SELECT count").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), depth)
}

func TestPostgresMigration_Shape(t *testing.T) {
	assert.Contains(t, postgresMigration, "CREATE TABLE IF NOT EXISTS enrichment_queue")
	assert.Contains(t, postgresMigration, "WHERE status = 'pending'")
	assert.Contains(t, postgresMigration, "CHECK (status IN ('pending', 'resolved', 'abandoned'))")
}
