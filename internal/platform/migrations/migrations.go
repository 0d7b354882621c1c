// Package migrations applies the database schema. Statements are idempotent
// so Apply can run unconditionally at startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS asset_prices (
		asset      BIGINT PRIMARY KEY,
		value      NUMERIC(20,0) NOT NULL CHECK (value > 0),
		decimals   SMALLINT NOT NULL CHECK (decimals >= 0 AND decimals <= 255),
		round      NUMERIC(20,0) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_asset_prices_updated_at
		ON asset_prices (updated_at)`,
}

// Apply runs every schema statement against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
