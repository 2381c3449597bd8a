package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/idresolve/internal/model"
)

// SQLiteQueue implements Queue using modernc.org/sqlite, for local runs
// without a shared postgres.
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "queue: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "queue: sqlite exec %s", pragma)
		}
	}
	return &SQLiteQueue{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_queue (
	id              TEXT PRIMARY KEY,
	normalized_name TEXT NOT NULL,
	enqueued_at     DATETIME NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'abandoned'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_enrichment_queue_pending
	ON enrichment_queue (normalized_name) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_enrichment_queue_status ON enrichment_queue (status);
`

func (q *SQLiteQueue) Migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "queue: sqlite migrate")
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, names []string) (int, error) {
	names = dedupeNames(names)
	if len(names) == 0 {
		return 0, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "queue: sqlite begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, name := range names {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO enrichment_queue (id, normalized_name, enqueued_at, attempts, status)
			VALUES (?, ?, ?, 0, 'pending')`,
			uuid.New().String(), name, now)
		if err != nil {
			return 0, eris.Wrapf(err, "queue: sqlite enqueue %s", name)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "queue: sqlite commit")
	}
	return inserted, nil
}

func (q *SQLiteQueue) Pending(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, normalized_name, enqueued_at, attempts, status
		FROM enrichment_queue
		WHERE status = 'pending'
		ORDER BY enqueued_at, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "queue: sqlite list pending")
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		if err := rows.Scan(&e.ID, &e.NormalizedName, &e.EnqueuedAt, &e.Attempts, &e.Status); err != nil {
			return nil, eris.Wrap(err, "queue: sqlite scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *SQLiteQueue) MarkResolved(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE enrichment_queue SET status = 'resolved' WHERE id = ?`, id)
	return eris.Wrapf(err, "queue: sqlite mark resolved %s", id)
}

func (q *SQLiteQueue) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= ? THEN 'abandoned' ELSE 'pending' END
		WHERE id = ?`, maxAttempts, id)
	return eris.Wrapf(err, "queue: sqlite mark failed %s", id)
}

func (q *SQLiteQueue) Depth(ctx context.Context) (int64, error) {
	var depth int64
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM enrichment_queue WHERE status = 'pending'`).Scan(&depth)
	if err != nil {
		return 0, eris.Wrap(err, "queue: sqlite depth")
	}
	return depth, nil
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
