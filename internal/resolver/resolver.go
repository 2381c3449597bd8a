// Package resolver orchestrates the priority cascade that assigns a company
// identifier to every row of a batch. Tiers are evaluated strictly in order
// and the first hit wins: plan code (P1), account number (P2), configured
// override (P3), normalized customer name with optional enrichment (P4),
// account name (P5), then the deterministic temporary-identifier fallback.
// Cache reads are batched per tier across the whole batch, never per row.
package resolver

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/enrich"
	"github.com/sells-group/idresolve/internal/mapping"
	"github.com/sells-group/idresolve/internal/model"
	"github.com/sells-group/idresolve/internal/normalize"
	"github.com/sells-group/idresolve/internal/queue"
	"github.com/sells-group/idresolve/internal/tempid"
	"github.com/sells-group/idresolve/pkg/eqc"
)

// Decision paths recorded on results, one per winning tier.
const (
	PathPlan        = "P1"
	PathAccount     = "P2"
	PathOverride    = "P3"
	PathName        = "P4"
	PathAccountName = "P5"
	PathTemporary   = "temp"
	PathNone        = "none"
)

// OverrideConfidence is assigned to hits from the configured override table.
const OverrideConfidence = 1.0

// Config is the per-run configuration handed to the resolver at
// construction. Nothing is inferred from which dependencies happen to be
// present: enrichment runs only when explicitly enabled here.
type Config struct {
	// EnrichmentEnabled gates the P4 provider phase and async deferral.
	EnrichmentEnabled bool

	// SyncBudget caps provider calls per run. Once spent, remaining name
	// misses are enqueued instead. Zero means no synchronous calls at all.
	SyncBudget int

	// Overrides maps literal source values to company identifiers (P3).
	// Keys are matched exactly as configured, never normalized.
	Overrides map[string]string
}

// BatchStats summarizes one resolver run.
type BatchStats struct {
	RunID     string         `json:"run_id"`
	Rows      int            `json:"rows"`
	ByPath    map[string]int `json:"by_path"`
	CacheHits int            `json:"cache_hits"`
	SyncCalls int            `json:"sync_calls"`
	Enqueued  int            `json:"enqueued"`
}

// Resolver runs the cascade. It is stateless across runs; the synchronous
// budget counter lives on the stack of a single Resolve call.
type Resolver struct {
	repo     mapping.Repository
	provider enrich.Provider
	queue    queue.Queue
	tempIDs  *tempid.Generator
	cfg      Config
}

// New validates the wiring and returns a resolver. Enrichment requires both
// a provider and a queue; the temp-ID generator and repository are always
// required.
func New(repo mapping.Repository, provider enrich.Provider, q queue.Queue, gen *tempid.Generator, cfg Config) (*Resolver, error) {
	if repo == nil {
		return nil, eris.New("resolver: repository is required")
	}
	if gen == nil {
		return nil, eris.New("resolver: temp id generator is required")
	}
	if cfg.EnrichmentEnabled {
		if provider == nil {
			return nil, eris.New("resolver: enrichment enabled without a provider")
		}
		if q == nil {
			return nil, eris.New("resolver: enrichment enabled without a queue")
		}
		if cfg.SyncBudget < 0 {
			return nil, eris.Errorf("resolver: negative sync budget %d", cfg.SyncBudget)
		}
	}
	return &Resolver{repo: repo, provider: provider, queue: q, tempIDs: gen, cfg: cfg}, nil
}

// tierHit is one tier's non-empty outcome for a row.
type tierHit struct {
	companyID  string
	source     model.Source
	confidence float64
	path       string
}

// run carries the mutable state of one Resolve call.
type run struct {
	reqs    []model.ResolutionRequest
	results []model.ResolutionResult
	decided []bool
	hitKeys []mapping.Key
	stats   *BatchStats
}

func (s *run) settle(i int, h tierHit) {
	s.results[i] = model.ResolutionResult{
		CompanyID:    &h.companyID,
		Source:       h.source,
		Confidence:   h.confidence,
		DecisionPath: h.path,
	}
	s.decided[i] = true
	s.stats.ByPath[h.path]++
}

// Resolve evaluates the cascade over the whole batch and returns results
// positionally aligned with reqs. Repository write failures and queue
// failures abort the run; read-tier unavailability degrades to a skipped
// tier with a warning.
func (r *Resolver) Resolve(ctx context.Context, reqs []model.ResolutionRequest) ([]model.ResolutionResult, *BatchStats, error) {
	s := &run{
		reqs:    reqs,
		results: make([]model.ResolutionResult, len(reqs)),
		decided: make([]bool, len(reqs)),
		stats: &BatchStats{
			RunID:  uuid.New().String(),
			Rows:   len(reqs),
			ByPath: make(map[string]int),
		},
	}

	if err := r.cacheTier(ctx, s, PathPlan, model.LookupPlan, func(req model.ResolutionRequest) string {
		return req.PlanCode
	}); err != nil {
		return nil, s.stats, err
	}
	if err := r.cacheTier(ctx, s, PathAccount, model.LookupAccount, func(req model.ResolutionRequest) string {
		return req.AccountNumber
	}); err != nil {
		return nil, s.stats, err
	}

	r.overrideTier(s)

	if err := r.nameTier(ctx, s); err != nil {
		return nil, s.stats, err
	}

	if err := r.cacheTier(ctx, s, PathAccountName, model.LookupAccountName, func(req model.ResolutionRequest) string {
		return req.AccountName
	}); err != nil {
		return nil, s.stats, err
	}

	r.fallbackTier(s)

	if len(s.hitKeys) > 0 {
		if err := r.repo.UpdateHitCount(ctx, s.hitKeys); err != nil {
			// Hit counting is telemetry; a failed touch never fails the run.
			zap.L().Warn("resolver: hit count update failed", zap.Error(err))
		}
	}

	zap.L().Info("resolver: batch resolved",
		zap.String("run_id", s.stats.RunID),
		zap.Int("rows", s.stats.Rows),
		zap.Int("cache_hits", s.stats.CacheHits),
		zap.Int("sync_calls", s.stats.SyncCalls),
		zap.Int("enqueued", s.stats.Enqueued),
	)
	return s.results, s.stats, nil
}

// cacheTier runs one exact-match cache tier for every undecided row: one
// batched lookup, then per-row settlement. Repository unavailability skips
// the tier; any other lookup error aborts the run.
func (r *Resolver) cacheTier(ctx context.Context, s *run, path string, lt model.LookupType, keyOf func(model.ResolutionRequest) string) error {
	var keys []mapping.Key
	for i, req := range s.reqs {
		if s.decided[i] {
			continue
		}
		if k := keyOf(req); k != "" {
			keys = append(keys, mapping.Key{LookupKey: k, LookupType: lt})
		}
	}
	if len(keys) == 0 {
		return nil
	}

	recs, err := r.repo.LookupBatch(ctx, keys)
	if err != nil {
		if mapping.IsUnavailable(err) {
			zap.L().Warn("resolver: cache tier skipped, repository unavailable",
				zap.String("tier", path), zap.Error(err))
			return nil
		}
		return eris.Wrapf(err, "resolver: %s lookup", path)
	}

	for i, req := range s.reqs {
		if s.decided[i] {
			continue
		}
		k := keyOf(req)
		if k == "" {
			continue
		}
		key := mapping.Key{LookupKey: k, LookupType: lt}
		rec, ok := recs[key]
		if !ok {
			continue
		}
		s.settle(i, tierHit{
			companyID:  rec.CompanyID,
			source:     rec.Source,
			confidence: rec.Confidence,
			path:       path,
		})
		s.hitKeys = append(s.hitKeys, key)
		s.stats.CacheHits++
	}
	return nil
}

// overrideTier checks each row's raw signals against the configured
// override table. Values are matched literally; this tier never normalizes.
func (r *Resolver) overrideTier(s *run) {
	if len(r.cfg.Overrides) == 0 {
		return
	}
	for i, req := range s.reqs {
		if s.decided[i] {
			continue
		}
		for _, candidate := range []string{
			req.HardcodeKey,
			req.PlanCode,
			req.AccountNumber,
			req.CustomerName,
			req.AccountName,
		} {
			if candidate == "" {
				continue
			}
			id, ok := r.cfg.Overrides[candidate]
			if !ok {
				continue
			}
			s.settle(i, tierHit{
				companyID:  id,
				source:     model.SourceManualOverride,
				confidence: OverrideConfidence,
				path:       PathOverride,
			})
			break
		}
	}
}

// nameTier is P4: a batched cache lookup on the normalized customer name,
// then a per-row provider phase for the misses. The provider phase walks
// rows in batch order so budget spend is deterministic. An auth failure
// stops all further provider calls for the run and routes the rest to the
// queue.
func (r *Resolver) nameTier(ctx context.Context, s *run) error {
	normalized := make([]string, len(s.reqs))
	var keys []mapping.Key
	for i, req := range s.reqs {
		if s.decided[i] {
			continue
		}
		n := normalize.ForCache(req.CustomerName)
		normalized[i] = n
		if n != "" {
			keys = append(keys, mapping.Key{LookupKey: n, LookupType: model.LookupName})
		}
	}
	if len(keys) == 0 {
		return nil
	}

	recs, err := r.repo.LookupBatch(ctx, keys)
	if err != nil {
		if mapping.IsUnavailable(err) {
			zap.L().Warn("resolver: name tier cache skipped, repository unavailable", zap.Error(err))
			recs = nil
		} else {
			return eris.Wrap(err, "resolver: name lookup")
		}
	}

	for i := range s.reqs {
		if s.decided[i] || normalized[i] == "" {
			continue
		}
		key := mapping.Key{LookupKey: normalized[i], LookupType: model.LookupName}
		rec, ok := recs[key]
		if !ok {
			continue
		}
		s.settle(i, tierHit{
			companyID:  rec.CompanyID,
			source:     rec.Source,
			confidence: rec.Confidence,
			path:       PathName,
		})
		s.hitKeys = append(s.hitKeys, key)
		s.stats.CacheHits++
	}

	if !r.cfg.EnrichmentEnabled {
		return nil
	}
	return r.providerPhase(ctx, s, normalized)
}

// providerPhase consults the enrichment provider for rows still undecided
// after the name-tier cache lookup, spending the synchronous budget in row
// order. Successes are persisted with source eqc_sync before the resolver
// returns; misses and over-budget rows are enqueued and fall through to P5.
func (r *Resolver) providerPhase(ctx context.Context, s *run, normalized []string) error {
	budget := r.cfg.SyncBudget
	authDead := false
	resolved := make(map[string]*enrich.Match)
	missed := make(map[string]struct{})
	var syncRecords []model.IndexRecord
	var toEnqueue []string

	enqueue := func(name string) {
		if _, ok := missed[name]; ok {
			return
		}
		missed[name] = struct{}{}
		toEnqueue = append(toEnqueue, name)
	}

	for i := range s.reqs {
		if s.decided[i] || normalized[i] == "" {
			continue
		}
		name := normalized[i]

		// A name already resolved synchronously this run is never looked up
		// again and never enqueued.
		if match, ok := resolved[name]; ok {
			s.settle(i, tierHit{
				companyID:  match.CompanyID,
				source:     model.SourceEQCSync,
				confidence: match.Confidence,
				path:       PathName,
			})
			continue
		}
		if _, ok := missed[name]; ok {
			continue
		}

		if authDead || budget <= 0 {
			enqueue(name)
			continue
		}

		budget--
		s.stats.SyncCalls++
		match, err := r.provider.Search(ctx, name)
		if err != nil {
			if eqc.IsAuth(err) {
				zap.L().Warn("resolver: provider auth failed, deferring remaining lookups", zap.Error(err))
				authDead = true
			} else {
				zap.L().Warn("resolver: provider lookup failed",
					zap.String("name", name), zap.Error(err))
			}
			enqueue(name)
			continue
		}
		if match == nil {
			enqueue(name)
			continue
		}

		resolved[name] = match
		syncRecords = append(syncRecords, model.IndexRecord{
			LookupKey:  name,
			LookupType: model.LookupName,
			CompanyID:  match.CompanyID,
			Confidence: match.Confidence,
			Source:     model.SourceEQCSync,
		})
		s.settle(i, tierHit{
			companyID:  match.CompanyID,
			source:     model.SourceEQCSync,
			confidence: match.Confidence,
			path:       PathName,
		})
	}

	if len(syncRecords) > 0 {
		if err := r.repo.InsertBatch(ctx, syncRecords); err != nil {
			return eris.Wrap(err, "resolver: persist sync matches")
		}
	}
	if len(toEnqueue) > 0 {
		n, err := r.queue.Enqueue(ctx, toEnqueue)
		if err != nil {
			return eris.Wrap(err, "resolver: enqueue deferred names")
		}
		s.stats.Enqueued = n
	}
	return nil
}

// fallbackTier assigns a temporary identifier derived from the customer
// name, or an explicit null when no usable name remains.
func (r *Resolver) fallbackTier(s *run) {
	for i, req := range s.reqs {
		if s.decided[i] {
			continue
		}
		if id, ok := r.tempIDs.Generate(req.CustomerName); ok {
			s.settle(i, tierHit{
				companyID:  id,
				source:     model.SourceTemporary,
				confidence: 0,
				path:       PathTemporary,
			})
			continue
		}
		s.results[i] = model.ResolutionResult{DecisionPath: PathNone}
		s.decided[i] = true
		s.stats.ByPath[PathNone]++
	}
}
