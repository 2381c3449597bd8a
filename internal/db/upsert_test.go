package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "enrichment_index",
		Columns:      []string{"lookup_key", "lookup_type"},
		ConflictKeys: []string{"lookup_key", "lookup_type"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "enrichment_index",
		ConflictKeys: []string{"lookup_key"},
	}, [][]any{{"k", "plan"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "enrichment_index",
		Columns: []string{"lookup_key", "lookup_type"},
	}, [][]any{{"k", "plan"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSetClauses_DefaultsToExcluded(t *testing.T) {
	clauses := setClauses(UpsertConfig{
		Columns:      []string{"lookup_key", "lookup_type", "company_id"},
		ConflictKeys: []string{"lookup_key", "lookup_type"},
	})
	require.Len(t, clauses, 1)
	assert.Equal(t, `"company_id" = EXCLUDED."company_id"`, clauses[0])
}

func TestSetClauses_CustomExpr(t *testing.T) {
	clauses := setClauses(UpsertConfig{
		Columns:      []string{"lookup_key", "confidence", "hit_count"},
		ConflictKeys: []string{"lookup_key"},
		UpdateExprs: map[string]string{
			"confidence": "GREATEST(enrichment_index.confidence, EXCLUDED.confidence)",
			"hit_count":  "enrichment_index.hit_count + 1",
		},
	})
	require.Len(t, clauses, 2)
	assert.Equal(t, `"confidence" = GREATEST(enrichment_index.confidence, EXCLUDED.confidence)`, clauses[0])
	assert.Equal(t, `"hit_count" = enrichment_index.hit_count + 1`, clauses[1])
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"etl.enrichment_index", `"etl"."enrichment_index"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"lookup_key", "lookup_type", "company_id"})
	assert.Equal(t, `"lookup_key", "lookup_type", "company_id"`, result)
}
