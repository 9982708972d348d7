package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaV1 creates the snapshots table plus the supporting indices the
// repository's queries rely on (symbol+ts for Recent/Stats, ts for Purge).
const schemaV1 = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           BIGSERIAL PRIMARY KEY,
	ts           TIMESTAMPTZ NOT NULL,
	symbol       TEXT NOT NULL,
	condition    TEXT NOT NULL,
	grade        TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	filter_pass  BOOLEAN NOT NULL,
	reason       TEXT NOT NULL,
	outcome      TEXT NOT NULL DEFAULT 'PENDING',
	outcome_at   TIMESTAMPTZ,
	realized_pl  DOUBLE PRECISION NOT NULL DEFAULT 0,
	features     JSONB NOT NULL,
	plan         JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_ts ON snapshots (symbol, ts DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots (ts);
CREATE INDEX IF NOT EXISTS idx_snapshots_outcome_pending ON snapshots (symbol) WHERE outcome = 'PENDING';

CREATE TABLE IF NOT EXISTS market_structure (
	symbol        TEXT NOT NULL,
	session_date  DATE NOT NULL,
	cpr_pivot     DOUBLE PRECISION NOT NULL,
	cpr_tc        DOUBLE PRECISION NOT NULL,
	cpr_bc        DOUBLE PRECISION NOT NULL,
	swing_levels  JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (symbol, session_date)
);

CREATE TABLE IF NOT EXISTS config_kv (
	key         TEXT PRIMARY KEY,
	value       JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema idempotently. Grounded on the teacher's
// preference for plain embedded SQL over a migration-framework dependency
// (the pack carries none) — see DESIGN.md for why this stays stdlib/sqlx
// rather than pulling in a migrations library.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
