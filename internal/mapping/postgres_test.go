package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/idresolve/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := NewPostgres(mock)
	repo.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	return mock, repo
}

func TestLookupBatch_Empty(t *testing.T) {
	_, repo := newMockRepo(t)
	found, err := repo.LookupBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestLookupBatch_HitsAndMisses(t *testing.T) {
	mock, repo := newMockRepo(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT e.lookup_key").
		WithArgs([]string{"P0290", "A-1"}, []string{"plan", "account"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"lookup_key", "lookup_type", "company_id", "confidence",
			"source", "hit_count", "created_at", "updated_at",
		}).AddRow("P0290", "plan", "1000001234", 0.7, "pipeline_backflow", int64(3), now, now))

	found, err := repo.LookupBatch(context.Background(), []Key{
		{LookupKey: "P0290", LookupType: model.LookupPlan},
		{LookupKey: "A-1", LookupType: model.LookupAccount},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)

	rec, ok := found[Key{LookupKey: "P0290", LookupType: model.LookupPlan}]
	require.True(t, ok)
	assert.Equal(t, "1000001234", rec.CompanyID)
	assert.Equal(t, model.SourceBackflow, rec.Source)
	assert.Equal(t, int64(3), rec.HitCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupBatch_DedupesKeys(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("SELECT e.lookup_key").
		WithArgs([]string{"P0290"}, []string{"plan"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"lookup_key", "lookup_type", "company_id", "confidence",
			"source", "hit_count", "created_at", "updated_at",
		}))

	_, err := repo.LookupBatch(context.Background(), []Key{
		{LookupKey: "P0290", LookupType: model.LookupPlan},
		{LookupKey: "P0290", LookupType: model.LookupPlan},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_UpsertFlow(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_enrichment_index"}, indexColumns).
		WillReturnResult(1)
	mock.ExpectExec("INSERT INTO \"enrichment_index\"").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.InsertBatch(context.Background(), []model.IndexRecord{{
		LookupKey:  "平安保险",
		LookupType: model.LookupName,
		CompanyID:  "1000009999",
		Confidence: 1.0,
		Source:     model.SourceEQCSync,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_EmptyIsNoop(t *testing.T) {
	mock, repo := newMockRepo(t)
	require.NoError(t, repo.InsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHitCount(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec("UPDATE enrichment_index").
		WithArgs([]string{"P0290"}, []string{"plan"}, []int64{1}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateHitCount(context.Background(), []Key{
		{LookupKey: "P0290", LookupType: model.LookupPlan},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHitCount_RepeatedKeyChargesEachOccurrence(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec("UPDATE enrichment_index").
		WithArgs([]string{"P0290", "ACC-1"}, []string{"plan", "account"}, []int64{2, 1}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := repo.UpdateHitCount(context.Background(), []Key{
		{LookupKey: "P0290", LookupType: model.LookupPlan},
		{LookupKey: "ACC-1", LookupType: model.LookupAccount},
		{LookupKey: "P0290", LookupType: model.LookupPlan},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountKeys(t *testing.T) {
	uniq, hits := countKeys([]Key{
		{LookupKey: "a", LookupType: model.LookupPlan},
		{LookupKey: "b", LookupType: model.LookupPlan},
		{LookupKey: "a", LookupType: model.LookupPlan},
		{LookupKey: "a", LookupType: model.LookupName}, // same key, different type
	})
	require.Len(t, uniq, 3)
	assert.Equal(t, Key{LookupKey: "a", LookupType: model.LookupPlan}, uniq[0])
	assert.Equal(t, []int64{2, 1, 1}, hits)
}

func TestStats(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("SELECT lookup_type").
		WillReturnRows(pgxmock.NewRows([]string{"lookup_type", "count", "sum"}).
			AddRow("name", int64(120), int64(480)).
			AddRow("plan", int64(40), int64(600)))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeStats{Rows: 120, Hits: 480}, stats[model.LookupName])
	assert.Equal(t, TypeStats{Rows: 40, Hits: 600}, stats[model.LookupPlan])
}

func TestDedupe_KeepsHigherConfidence(t *testing.T) {
	recs := dedupe([]model.IndexRecord{
		{LookupKey: "k", LookupType: model.LookupPlan, CompanyID: "A", Confidence: 0.7},
		{LookupKey: "k", LookupType: model.LookupPlan, CompanyID: "B", Confidence: 0.9},
		{LookupKey: "k2", LookupType: model.LookupPlan, CompanyID: "C", Confidence: 0.5},
	})
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[0].CompanyID)
	assert.Equal(t, "C", recs[1].CompanyID)
}

func TestDedupe_FirstWinsTies(t *testing.T) {
	recs := dedupe([]model.IndexRecord{
		{LookupKey: "k", LookupType: model.LookupPlan, CompanyID: "A", Confidence: 0.7},
		{LookupKey: "k", LookupType: model.LookupPlan, CompanyID: "B", Confidence: 0.7},
	})
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].CompanyID)
}

func TestMergeExprs_CoverMutableColumns(t *testing.T) {
	assert.Contains(t, mergeExprs["confidence"], "GREATEST")
	assert.Contains(t, mergeExprs["company_id"], "EXCLUDED.confidence > enrichment_index.confidence")
	assert.Contains(t, mergeExprs["hit_count"], "hit_count + 1")
	assert.Equal(t, "enrichment_index.created_at", mergeExprs["created_at"])
}
