package queue

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/idresolve/internal/enrich"
	"github.com/sells-group/idresolve/internal/mapping"
	"github.com/sells-group/idresolve/internal/model"
	"github.com/sells-group/idresolve/pkg/eqc"
)

// WorkerConfig tunes the out-of-band drain.
type WorkerConfig struct {
	BatchSize   int // entries fetched per drain pass; default 100
	Concurrency int // parallel provider lookups; default 4
	MaxAttempts int // attempts before an entry is abandoned; default 5
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Fetched  int `json:"fetched"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Worker retires pending queue entries by resolving them through the
// enrichment provider and landing successes in the enrichment index with
// source eqc_async. It runs outside the synchronous budget.
type Worker struct {
	queue    Queue
	repo     mapping.Repository
	provider enrich.Provider
	cfg      WorkerConfig
}

// NewWorker creates a drain worker.
func NewWorker(q Queue, repo mapping.Repository, provider enrich.Provider, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{queue: q, repo: repo, provider: provider, cfg: cfg}
}

// Drain processes one batch of pending entries. An auth failure aborts the
// pass: retrying with a dead token would only burn attempts on every entry.
func (w *Worker) Drain(ctx context.Context) (*DrainStats, error) {
	entries, err := w.queue.Pending(ctx, w.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "queue: worker fetch pending")
	}

	stats := &DrainStats{Fetched: len(entries)}
	if len(entries) == 0 {
		return stats, nil
	}

	var resolved, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for _, entry := range entries {
		g.Go(func() error {
			match, err := w.provider.Search(gctx, entry.NormalizedName)
			if err != nil {
				if eqc.IsAuth(err) {
					return eris.Wrap(err, "queue: worker provider auth")
				}
				zap.L().Warn("queue: provider lookup failed",
					zap.String("name", entry.NormalizedName),
					zap.Error(err),
				)
				failed.Add(1)
				return w.queue.MarkFailed(gctx, entry.ID, w.cfg.MaxAttempts)
			}

			if match == nil {
				failed.Add(1)
				return w.queue.MarkFailed(gctx, entry.ID, w.cfg.MaxAttempts)
			}

			err = w.repo.InsertBatch(gctx, []model.IndexRecord{{
				LookupKey:  entry.NormalizedName,
				LookupType: model.LookupName,
				CompanyID:  match.CompanyID,
				Confidence: match.Confidence,
				Source:     model.SourceEQCAsync,
			}})
			if err != nil {
				return eris.Wrap(err, "queue: worker persist match")
			}

			resolved.Add(1)
			return w.queue.MarkResolved(gctx, entry.ID)
		})
	}

	err = g.Wait()
	stats.Resolved = int(resolved.Load())
	stats.Failed = int(failed.Load())
	if err != nil {
		return stats, err
	}

	zap.L().Info("queue: drain pass complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("resolved", stats.Resolved),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
