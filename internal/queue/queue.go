// Package queue is the durable backlog for name lookups deferred past the
// synchronous enrichment budget. Entries are created at resolution time and
// retired by the out-of-band worker once it lands them in the enrichment
// index.
package queue

import (
	"context"

	"github.com/sells-group/idresolve/internal/model"
)

// Queue is the async enrichment backlog. Two backends exist: postgres on the
// shared pool for production runs and sqlite for local ones.
type Queue interface {
	// Enqueue adds normalized names to the pending backlog, skipping names
	// that are already pending. Returns the number of newly enqueued names.
	Enqueue(ctx context.Context, names []string) (int, error)

	// Pending returns up to limit pending entries in enqueue order.
	Pending(ctx context.Context, limit int) ([]model.QueueEntry, error)

	// MarkResolved retires an entry after its name landed in the index.
	MarkResolved(ctx context.Context, id string) error

	// MarkFailed increments an entry's attempt count, abandoning it once
	// attempts reach maxAttempts.
	MarkFailed(ctx context.Context, id string, maxAttempts int) error

	// Depth returns the number of pending entries.
	Depth(ctx context.Context) (int64, error)

	// Migrate creates the backing table. Safe to run repeatedly.
	Migrate(ctx context.Context) error

	Close() error
}

// dedupeNames drops blanks and duplicates, preserving first-seen order so
// enqueue behavior stays deterministic for a fixed batch.
func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
