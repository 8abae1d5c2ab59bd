package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateRun records a run as running. Re-creating an existing run (a resume)
// resets its status.
func (db *DB) CreateRun(ctx context.Context, runID, pipeline string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, pipeline, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
		     error_kind = NULL, stage_id = NULL, completed_at = NULL`,
		runID, pipeline, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a pipeline run as finished
func (db *DB) CompleteRun(ctx context.Context, runID, status, errorKind, stageID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, error_kind = $2, stage_id = $3, completed_at = NOW()
		 WHERE id = $4`,
		status, nullable(errorKind), nullable(stageID), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a pipeline run by ID
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, pipeline, status, error_kind, stage_id, created_at, completed_at
		 FROM pipeline_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Pipeline, &run.Status, &run.ErrorKind, &run.StageID, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves recent pipeline runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, pipeline, status, error_kind, stage_id, created_at, completed_at
		 FROM pipeline_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Pipeline, &run.Status, &run.ErrorKind, &run.StageID, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run with its steps and checkpoints
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM stage_checkpoints WHERE run_id = $1`,
		`DELETE FROM run_steps WHERE run_id = $1`,
		`DELETE FROM pipeline_runs WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, runID); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
	}
	return tx.Commit(ctx)
}
