// Package mapping is the batch-oriented cache boundary over the durable
// key→identifier store. All reads and writes are single-round-trip batch
// operations; conflicting writers are resolved by the store's atomic upsert
// with confidence max-merge, never by application-level read-modify-write.
package mapping

import (
	"context"
	"errors"

	"github.com/sells-group/idresolve/internal/model"
)

// Key addresses one enrichment index row.
type Key struct {
	LookupKey  string
	LookupType model.LookupType
}

// Repository is the cache boundary consumed by the resolver and the queue
// worker.
type Repository interface {
	// LookupBatch fetches all given keys in one round trip. Missing keys are
	// simply absent from the result; a miss is never an error.
	LookupBatch(ctx context.Context, keys []Key) (map[Key]model.IndexRecord, error)

	// InsertBatch upserts all records in one round trip. On a unique-key
	// conflict the higher-confidence company_id wins, hit_count increments,
	// and updated_at refreshes. Duplicate keys within the batch are merged
	// before the write, keeping the higher-confidence record.
	InsertBatch(ctx context.Context, recs []model.IndexRecord) error

	// UpdateHitCount bumps hit_count and updated_at for the given keys
	// without rewriting the rows. Every occurrence counts: a key appearing
	// twice in the batch adds two hits.
	UpdateHitCount(ctx context.Context, keys []Key) error

	// Stats returns per-lookup-type row and hit totals for observability.
	Stats(ctx context.Context) (map[model.LookupType]TypeStats, error)
}

// TypeStats summarizes cache effectiveness for one lookup type.
type TypeStats struct {
	Rows int64 `json:"rows"`
	Hits int64 `json:"hits"`
}

// UnavailableError marks a repository failure caused by connectivity rather
// than by the query itself. The resolver skips the affected cache tier on
// reads and fails the run on writes.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "mapping: repository unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err carries an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// dedupe merges duplicate keys within one batch, keeping the record with the
// higher confidence (first occurrence wins ties) so the upsert statement never
// touches the same row twice.
func dedupe(recs []model.IndexRecord) []model.IndexRecord {
	byKey := make(map[Key]int, len(recs))
	out := make([]model.IndexRecord, 0, len(recs))
	for _, r := range recs {
		k := Key{LookupKey: r.LookupKey, LookupType: r.LookupType}
		if i, seen := byKey[k]; seen {
			if r.Confidence > out[i].Confidence {
				out[i] = r
			}
			continue
		}
		byKey[k] = len(out)
		out = append(out, r)
	}
	return out
}

// countKeys collapses a key list into unique keys plus per-key occurrence
// counts, preserving first-seen order. Hit counting charges every occurrence,
// so two rows resolved off the same cache row add two hits.
func countKeys(keys []Key) ([]Key, []int64) {
	idx := make(map[Key]int, len(keys))
	uniq := make([]Key, 0, len(keys))
	hits := make([]int64, 0, len(keys))
	for _, k := range keys {
		if i, seen := idx[k]; seen {
			hits[i]++
			continue
		}
		idx[k] = len(uniq)
		uniq = append(uniq, k)
		hits = append(hits, 1)
	}
	return uniq, hits
}

// dedupeKeys drops duplicate keys, preserving first-seen order.
func dedupeKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
