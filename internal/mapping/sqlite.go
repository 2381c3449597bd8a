package mapping

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/idresolve/internal/model"
)

// SQLiteRepository implements Repository on modernc.org/sqlite, for local
// runs without a shared postgres. The conflict policy matches the postgres
// backend expression for expression.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "mapping: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "mapping: sqlite exec %s", pragma)
		}
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_index (
	lookup_key  TEXT NOT NULL,
	lookup_type TEXT NOT NULL CHECK (lookup_type IN ('plan', 'account', 'name', 'account_name')),
	company_id  TEXT NOT NULL,
	confidence  REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source      TEXT NOT NULL,
	hit_count   INTEGER NOT NULL DEFAULT 1,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (lookup_key, lookup_type)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_index_company_id ON enrichment_index (company_id);
`

// Migrate creates the enrichment index table. Safe to run repeatedly.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "mapping: sqlite migrate")
}

func (r *SQLiteRepository) LookupBatch(ctx context.Context, keys []Key) (map[Key]model.IndexRecord, error) {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return map[Key]model.IndexRecord{}, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, k := range keys {
		placeholders[i] = "(?, ?)"
		args = append(args, k.LookupKey, string(k.LookupType))
	}
	query := `
		SELECT lookup_key, lookup_type, company_id, confidence,
		       source, hit_count, created_at, updated_at
		FROM enrichment_index
		WHERE (lookup_key, lookup_type) IN (VALUES ` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(eris.Wrap(err, "mapping: sqlite lookup batch"))
	}
	defer rows.Close()

	found := make(map[Key]model.IndexRecord, len(keys))
	for rows.Next() {
		var rec model.IndexRecord
		if err := rows.Scan(&rec.LookupKey, &rec.LookupType, &rec.CompanyID, &rec.Confidence,
			&rec.Source, &rec.HitCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "mapping: sqlite scan index record")
		}
		found[Key{LookupKey: rec.LookupKey, LookupType: rec.LookupType}] = rec
	}
	return found, rows.Err()
}

const sqliteUpsert = `
	INSERT INTO enrichment_index
		(lookup_key, lookup_type, company_id, confidence, source, hit_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT (lookup_key, lookup_type) DO UPDATE SET
		company_id = CASE WHEN excluded.confidence > enrichment_index.confidence
			THEN excluded.company_id ELSE enrichment_index.company_id END,
		source = CASE WHEN excluded.confidence > enrichment_index.confidence
			THEN excluded.source ELSE enrichment_index.source END,
		confidence = MAX(enrichment_index.confidence, excluded.confidence),
		hit_count = enrichment_index.hit_count + 1,
		updated_at = excluded.updated_at`

func (r *SQLiteRepository) InsertBatch(ctx context.Context, recs []model.IndexRecord) error {
	recs = dedupe(recs)
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(eris.Wrap(err, "mapping: sqlite begin"))
	}
	defer tx.Rollback() //nolint:errcheck

	now := r.now().UTC()
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, sqliteUpsert,
			rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
			string(rec.Source), now, now); err != nil {
			return classify(eris.Wrapf(err, "mapping: sqlite upsert %s/%s", rec.LookupKey, rec.LookupType))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(eris.Wrap(err, "mapping: sqlite commit"))
	}
	return nil
}

func (r *SQLiteRepository) UpdateHitCount(ctx context.Context, keys []Key) error {
	uniq, hits := countKeys(keys)
	if len(uniq) == 0 {
		return nil
	}

	now := r.now().UTC()
	for i, k := range uniq {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE enrichment_index
			SET hit_count = hit_count + ?, updated_at = ?
			WHERE lookup_key = ? AND lookup_type = ?`,
			hits[i], now, k.LookupKey, string(k.LookupType)); err != nil {
			return classify(eris.Wrapf(err, "mapping: sqlite update hit count %s/%s", k.LookupKey, k.LookupType))
		}
	}
	return nil
}

func (r *SQLiteRepository) Stats(ctx context.Context) (map[model.LookupType]TypeStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lookup_type, count(*), COALESCE(sum(hit_count), 0)
		FROM enrichment_index
		GROUP BY lookup_type`)
	if err != nil {
		return nil, classify(eris.Wrap(err, "mapping: sqlite stats"))
	}
	defer rows.Close()

	stats := make(map[model.LookupType]TypeStats)
	for rows.Next() {
		var lt model.LookupType
		var ts TypeStats
		if err := rows.Scan(&lt, &ts.Rows, &ts.Hits); err != nil {
			return nil, eris.Wrap(err, "mapping: sqlite scan stats")
		}
		stats[lt] = ts
	}
	return stats, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
