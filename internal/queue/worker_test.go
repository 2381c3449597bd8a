package queue

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/idresolve/internal/enrich"
	"github.com/sells-group/idresolve/internal/mapping"
	"github.com/sells-group/idresolve/internal/model"
	"github.com/sells-group/idresolve/pkg/eqc"
)

type stubProvider struct {
	mu      sync.Mutex
	matches map[string]*enrich.Match
	errs    map[string]error
	calls   []string
}

func (p *stubProvider) Search(_ context.Context, name string) (*enrich.Match, error) {
	p.mu.Lock()
	p.calls = append(p.calls, name)
	p.mu.Unlock()
	if err, ok := p.errs[name]; ok {
		return nil, err
	}
	return p.matches[name], nil
}

type memRepo struct {
	mu      sync.Mutex
	records map[mapping.Key]model.IndexRecord
	err     error
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[mapping.Key]model.IndexRecord)}
}

func (r *memRepo) LookupBatch(_ context.Context, keys []mapping.Key) (map[mapping.Key]model.IndexRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[mapping.Key]model.IndexRecord)
	for _, k := range keys {
		if rec, ok := r.records[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (r *memRepo) InsertBatch(_ context.Context, recs []model.IndexRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, rec := range recs {
		k := mapping.Key{LookupKey: rec.LookupKey, LookupType: rec.LookupType}
		if existing, ok := r.records[k]; !ok || rec.Confidence > existing.Confidence {
			r.records[k] = rec
		}
	}
	return nil
}

func (r *memRepo) UpdateHitCount(context.Context, []mapping.Key) error { return nil }

func (r *memRepo) Stats(context.Context) (map[model.LookupType]mapping.TypeStats, error) {
	return nil, nil
}

func TestWorker_DrainResolves(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"平安保险", "华夏基金"})
	require.NoError(t, err)

	repo := newMemRepo()
	provider := &stubProvider{matches: map[string]*enrich.Match{
		"平安保险": {CompanyID: "1000000001", MatchType: "exact", Confidence: 1.0},
		"华夏基金": {CompanyID: "1000000002", MatchType: "fuzzy", Confidence: 0.8},
	}}

	w := NewWorker(q, repo, provider, WorkerConfig{})
	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.Resolved)
	assert.Equal(t, 0, stats.Failed)

	rec, ok := repo.records[mapping.Key{LookupKey: "平安保险", LookupType: model.LookupName}]
	require.True(t, ok)
	assert.Equal(t, "1000000001", rec.CompanyID)
	assert.Equal(t, model.SourceEQCAsync, rec.Source)
	assert.Equal(t, 1.0, rec.Confidence)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestWorker_DrainMissIncrementsAttempts(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"不存在公司"})
	require.NoError(t, err)

	repo := newMemRepo()
	provider := &stubProvider{matches: map[string]*enrich.Match{}}

	w := NewWorker(q, repo, provider, WorkerConfig{MaxAttempts: 2})

	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	entries, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	// Second miss abandons the entry.
	stats, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
	assert.Empty(t, repo.records)
}

func TestWorker_DrainTransientErrorCountsAsFailed(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"平安保险"})
	require.NoError(t, err)

	provider := &stubProvider{errs: map[string]error{
		"平安保险": eris.New("connection reset by peer"),
	}}

	w := NewWorker(q, newMemRepo(), provider, WorkerConfig{MaxAttempts: 5})
	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Still pending, one attempt burned.
	entries, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
}

func TestWorker_DrainAuthErrorAbortsPass(t *testing.T) {
	q := newSQLiteQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"平安保险"})
	require.NoError(t, err)

	provider := &stubProvider{errs: map[string]error{
		"平安保险": &eqc.AuthError{StatusCode: http.StatusUnauthorized},
	}}

	w := NewWorker(q, newMemRepo(), provider, WorkerConfig{})
	_, err = w.Drain(ctx)
	require.Error(t, err)
	assert.True(t, eqc.IsAuth(err))

	// Entry is untouched: no attempt burned against a dead token.
	entries, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Attempts)
}

func TestWorker_DrainEmptyQueue(t *testing.T) {
	q := newSQLiteQueue(t)
	w := NewWorker(q, newMemRepo(), &stubProvider{}, WorkerConfig{})

	stats, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Fetched)
}
