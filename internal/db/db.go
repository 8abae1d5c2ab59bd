// Package db provides PostgreSQL access for checkpoints and run records.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Schema is the DDL applied by Migrate. Every statement is idempotent.
// Checkpoint data is JSON rather than JSONB so the stored bytes match the
// checksum computed at write time.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          TEXT PRIMARY KEY,
	pipeline    TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT,
	stage_id    TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_steps (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL,
	stage_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempt      INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	error_kind   TEXT,
	message      TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS run_steps_run_id_idx ON run_steps (run_id, id);

CREATE TABLE IF NOT EXISTS stage_checkpoints (
	run_id        TEXT NOT NULL,
	stage_id      TEXT NOT NULL,
	stage_index   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	data          JSON NOT NULL,
	attempts      INTEGER NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL,
	stage_version INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT,
	error_message TEXT,
	degraded      BOOLEAN NOT NULL DEFAULT FALSE,
	checksum      TEXT,
	seq           BIGSERIAL,
	PRIMARY KEY (run_id, stage_id)
);

ALTER TABLE stage_checkpoints ADD COLUMN IF NOT EXISTS stage_index INTEGER NOT NULL DEFAULT 0;
`

// Migrate creates the tables used by this package.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
