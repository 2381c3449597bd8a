package queue

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/idresolve/internal/db"
	"github.com/sells-group/idresolve/internal/model"
)

// PostgresQueue implements Queue on the shared pgx pool.
type PostgresQueue struct {
	pool db.Pool
}

// NewPostgres creates a postgres-backed queue.
func NewPostgres(pool db.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_queue (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	normalized_name TEXT NOT NULL,
	enqueued_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	attempts        INT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'abandoned'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_enrichment_queue_pending
	ON enrichment_queue (normalized_name) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_enrichment_queue_status ON enrichment_queue (status);
`

func (q *PostgresQueue) Migrate(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "queue: migrate")
	}
	return nil
}

const enqueueSQL = `
	INSERT INTO enrichment_queue (normalized_name)
	SELECT n FROM unnest($1::text[]) AS n
	ON CONFLICT (normalized_name) WHERE status = 'pending' DO NOTHING`

func (q *PostgresQueue) Enqueue(ctx context.Context, names []string) (int, error) {
	names = dedupeNames(names)
	if len(names) == 0 {
		return 0, nil
	}

	tag, err := q.pool.Exec(ctx, enqueueSQL, names)
	if err != nil {
		return 0, eris.Wrap(err, "queue: enqueue")
	}
	return int(tag.RowsAffected()), nil
}

func (q *PostgresQueue) Pending(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.pool.Query(ctx, `
		SELECT id, normalized_name, enqueued_at, attempts, status
		FROM enrichment_queue
		WHERE status = 'pending'
		ORDER BY enqueued_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "queue: list pending")
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		if err := rows.Scan(&e.ID, &e.NormalizedName, &e.EnqueuedAt, &e.Attempts, &e.Status); err != nil {
			return nil, eris.Wrap(err, "queue: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *PostgresQueue) MarkResolved(ctx context.Context, id string) error {
	if _, err := q.pool.Exec(ctx,
		`UPDATE enrichment_queue SET status = 'resolved' WHERE id = $1`, id); err != nil {
		return eris.Wrapf(err, "queue: mark resolved %s", id)
	}
	return nil
}

func (q *PostgresQueue) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	if _, err := q.pool.Exec(ctx, `
		UPDATE enrichment_queue
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'abandoned' ELSE 'pending' END
		WHERE id = $1`, id, maxAttempts); err != nil {
		return eris.Wrapf(err, "queue: mark failed %s", id)
	}
	return nil
}

func (q *PostgresQueue) Depth(ctx context.Context) (int64, error) {
	var depth int64
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM enrichment_queue WHERE status = 'pending'`).Scan(&depth)
	if err != nil {
		return 0, eris.Wrap(err, "queue: depth")
	}
	return depth, nil
}

// Close is a no-op; the pool is owned by the caller.
func (q *PostgresQueue) Close() error {
	return nil
}
