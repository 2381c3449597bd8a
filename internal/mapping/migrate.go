package mapping

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/idresolve/internal/db"
)

const migration = `
CREATE TABLE IF NOT EXISTS enrichment_index (
	lookup_key  TEXT NOT NULL,
	lookup_type TEXT NOT NULL CHECK (lookup_type IN ('plan', 'account', 'name', 'account_name')),
	company_id  TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source      TEXT NOT NULL,
	hit_count   BIGINT NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (lookup_key, lookup_type)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_index_company_id ON enrichment_index (company_id);
`

// Migrate creates the enrichment index table. Safe to run repeatedly.
func Migrate(ctx context.Context, pool db.Pool) error {
	if _, err := pool.Exec(ctx, migration); err != nil {
		return eris.Wrap(err, "mapping: migrate")
	}
	return nil
}
