// Package migrate applies the engine's database schema. Statements are
// idempotent, so running them on every startup is safe.
package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS endpoints (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL DEFAULT '',
		url                TEXT NOT NULL,
		event_types        TEXT[] NOT NULL,
		secret             BYTEA NOT NULL,
		headers            JSONB NOT NULL DEFAULT '[]',
		timeout_ms         BIGINT NOT NULL DEFAULT 30000,
		max_attempts       INT NOT NULL DEFAULT 3,
		initial_delay_ms   BIGINT NOT NULL DEFAULT 1000,
		backoff_multiplier DOUBLE PRECISION NOT NULL DEFAULT 2.0,
		max_delay_ms       BIGINT NOT NULL DEFAULT 300000,
		active             BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS delivery_records (
		delivery_id   TEXT PRIMARY KEY,
		endpoint_id   TEXT NOT NULL REFERENCES endpoints(id),
		event_id      TEXT NOT NULL,
		event_type    TEXT NOT NULL,
		payload       BYTEA NOT NULL,
		signature     TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		attempt_count INT NOT NULL DEFAULT 0,
		max_attempts  INT NOT NULL DEFAULT 3,
		response_code INT,
		response_body TEXT,
		last_error    TEXT,
		next_retry_at TIMESTAMPTZ,
		delivered_at  TIMESTAMPTZ,
		failed_at     TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_delivery_records_endpoint
		ON delivery_records(endpoint_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_delivery_records_status
		ON delivery_records(status, created_at DESC)`,

	// Sweeper scans: terminal purge and stale expiry are both cutoffs on
	// created_at filtered by status.
	`CREATE INDEX IF NOT EXISTS idx_delivery_records_created
		ON delivery_records(created_at)`,
}

// Run applies all schema statements in order.
func Run(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}
	return nil
}
