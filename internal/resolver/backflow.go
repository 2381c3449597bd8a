package resolver

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/mapping"
	"github.com/sells-group/idresolve/internal/model"
	"github.com/sells-group/idresolve/internal/normalize"
)

// BackflowConfidenceCap bounds backflow-derived entries below a direct
// provider hit, so a later genuine hit on the same key can still win the
// max-merge.
const BackflowConfidenceCap = 0.70

// BackflowWriter derives secondary cache entries from resolved rows: a row
// that resolved through one signal seeds the index under its other present
// signals, which is how the cold tiers (plan, account, account name) fill up
// without repeated provider calls.
type BackflowWriter struct {
	repo mapping.Repository
	cap  float64
}

// NewBackflowWriter creates a writer over the shared repository.
func NewBackflowWriter(repo mapping.Repository) *BackflowWriter {
	return &BackflowWriter{repo: repo, cap: BackflowConfidenceCap}
}

// winningType maps a decision path to the lookup type it already wrote or
// read, which backflow must not rewrite.
var winningType = map[string]model.LookupType{
	PathPlan:        model.LookupPlan,
	PathAccount:     model.LookupAccount,
	PathName:        model.LookupName,
	PathAccountName: model.LookupAccountName,
}

// Write derives and persists backflow entries for one resolved batch in a
// single batched upsert. Rows with temporary or null identifiers contribute
// nothing. Re-applying the same batch is idempotent apart from hit counting.
func (w *BackflowWriter) Write(ctx context.Context, reqs []model.ResolutionRequest, results []model.ResolutionResult) (int, error) {
	if len(reqs) != len(results) {
		return 0, eris.Errorf("backflow: %d requests but %d results", len(reqs), len(results))
	}

	var recs []model.IndexRecord
	for i, res := range results {
		if res.CompanyID == nil || res.Source == model.SourceTemporary {
			continue
		}
		conf := math.Min(res.Confidence, w.cap)
		winner := winningType[res.DecisionPath]

		for _, cand := range []struct {
			key string
			lt  model.LookupType
		}{
			{reqs[i].PlanCode, model.LookupPlan},
			{reqs[i].AccountNumber, model.LookupAccount},
			{normalize.ForCache(reqs[i].CustomerName), model.LookupName},
			{reqs[i].AccountName, model.LookupAccountName},
		} {
			if cand.key == "" || cand.lt == winner {
				continue
			}
			recs = append(recs, model.IndexRecord{
				LookupKey:  cand.key,
				LookupType: cand.lt,
				CompanyID:  *res.CompanyID,
				Confidence: conf,
				Source:     model.SourceBackflow,
			})
		}
	}

	if len(recs) == 0 {
		return 0, nil
	}
	if err := w.repo.InsertBatch(ctx, recs); err != nil {
		return 0, eris.Wrap(err, "backflow: insert derived entries")
	}
	zap.L().Info("backflow: derived entries written", zap.Int("records", len(recs)))
	return len(recs), nil
}
