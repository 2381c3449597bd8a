package mapping

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/idresolve/internal/db"
	"github.com/sells-group/idresolve/internal/model"
	"github.com/sells-group/idresolve/internal/resilience"
)

const indexTable = "enrichment_index"

var indexColumns = []string{
	"lookup_key", "lookup_type", "company_id", "confidence",
	"source", "hit_count", "created_at", "updated_at",
}

// mergeExprs implements the conflict policy in SQL so it stays atomic under
// concurrent writers: higher confidence wins the company_id, confidence
// max-merges, hit_count always increments, created_at never changes.
var mergeExprs = map[string]string{
	"company_id": "CASE WHEN EXCLUDED.confidence > enrichment_index.confidence" +
		" THEN EXCLUDED.company_id ELSE enrichment_index.company_id END",
	"source": "CASE WHEN EXCLUDED.confidence > enrichment_index.confidence" +
		" THEN EXCLUDED.source ELSE enrichment_index.source END",
	"confidence": "GREATEST(enrichment_index.confidence, EXCLUDED.confidence)",
	"hit_count":  "enrichment_index.hit_count + 1",
	"created_at": "enrichment_index.created_at",
	"updated_at": "now()",
}

// PostgresRepository implements Repository over a pgx pool.
type PostgresRepository struct {
	pool db.Pool
	now  func() time.Time // injectable for testing
}

// NewPostgres creates a Repository backed by the shared pgx pool.
func NewPostgres(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, now: time.Now}
}

const lookupBatchSQL = `
	SELECT e.lookup_key, e.lookup_type, e.company_id, e.confidence,
	       e.source, e.hit_count, e.created_at, e.updated_at
	FROM enrichment_index e
	JOIN unnest($1::text[], $2::text[]) AS k(lookup_key, lookup_type)
	  ON e.lookup_key = k.lookup_key AND e.lookup_type = k.lookup_type`

func (r *PostgresRepository) LookupBatch(ctx context.Context, keys []Key) (map[Key]model.IndexRecord, error) {
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return map[Key]model.IndexRecord{}, nil
	}

	lookupKeys, lookupTypes := splitKeys(keys)
	rows, err := r.pool.Query(ctx, lookupBatchSQL, lookupKeys, lookupTypes)
	if err != nil {
		return nil, classify(eris.Wrap(err, "mapping: lookup batch"))
	}
	defer rows.Close()

	found := make(map[Key]model.IndexRecord, len(keys))
	for rows.Next() {
		var rec model.IndexRecord
		if err := rows.Scan(&rec.LookupKey, &rec.LookupType, &rec.CompanyID, &rec.Confidence,
			&rec.Source, &rec.HitCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "mapping: scan index record")
		}
		found[Key{LookupKey: rec.LookupKey, LookupType: rec.LookupType}] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, classify(eris.Wrap(err, "mapping: lookup batch rows"))
	}
	return found, nil
}

func (r *PostgresRepository) InsertBatch(ctx context.Context, recs []model.IndexRecord) error {
	recs = dedupe(recs)
	if len(recs) == 0 {
		return nil
	}

	now := r.now().UTC()
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []any{
			rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
			string(rec.Source), int64(1), now, now,
		})
	}

	_, err := db.BulkUpsert(ctx, r.pool, db.UpsertConfig{
		Table:        indexTable,
		Columns:      indexColumns,
		ConflictKeys: []string{"lookup_key", "lookup_type"},
		UpdateExprs:  mergeExprs,
	}, rows)
	if err != nil {
		return classify(eris.Wrap(err, "mapping: insert batch"))
	}
	return nil
}

const updateHitCountSQL = `
	UPDATE enrichment_index e
	SET hit_count = e.hit_count + k.hits, updated_at = now()
	FROM unnest($1::text[], $2::text[], $3::bigint[]) AS k(lookup_key, lookup_type, hits)
	WHERE e.lookup_key = k.lookup_key AND e.lookup_type = k.lookup_type`

func (r *PostgresRepository) UpdateHitCount(ctx context.Context, keys []Key) error {
	uniq, hits := countKeys(keys)
	if len(uniq) == 0 {
		return nil
	}

	lookupKeys, lookupTypes := splitKeys(uniq)
	if _, err := r.pool.Exec(ctx, updateHitCountSQL, lookupKeys, lookupTypes, hits); err != nil {
		return classify(eris.Wrap(err, "mapping: update hit count"))
	}
	return nil
}

const statsSQL = `
	SELECT lookup_type, count(*), COALESCE(sum(hit_count), 0)
	FROM enrichment_index
	GROUP BY lookup_type`

func (r *PostgresRepository) Stats(ctx context.Context) (map[model.LookupType]TypeStats, error) {
	rows, err := r.pool.Query(ctx, statsSQL)
	if err != nil {
		return nil, classify(eris.Wrap(err, "mapping: stats"))
	}
	defer rows.Close()

	stats := make(map[model.LookupType]TypeStats)
	for rows.Next() {
		var lt model.LookupType
		var ts TypeStats
		if err := rows.Scan(&lt, &ts.Rows, &ts.Hits); err != nil {
			return nil, eris.Wrap(err, "mapping: scan stats")
		}
		stats[lt] = ts
	}
	return stats, rows.Err()
}

func splitKeys(keys []Key) ([]string, []string) {
	lookupKeys := make([]string, len(keys))
	lookupTypes := make([]string, len(keys))
	for i, k := range keys {
		lookupKeys[i] = k.LookupKey
		lookupTypes[i] = string(k.LookupType)
	}
	return lookupKeys, lookupTypes
}

// classify wraps connectivity-shaped failures as UnavailableError so callers
// can distinguish a dead store from a bad query.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return &UnavailableError{Err: err}
	}
	return err
}
