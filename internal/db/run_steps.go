package db

import (
	"context"
	"fmt"
)

// -----------------------------------------------------------------------------
// Run Steps Methods
// -----------------------------------------------------------------------------

// RecordRunStep appends one stage transition for a run
func (db *DB) RecordRunStep(ctx context.Context, runID string, input *RunStepInput) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_steps (run_id, stage_id, status, attempt, duration_ms, error_kind, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, input.StageID, input.Status, input.Attempt, input.DurationMs,
		nullable(input.ErrorKind), nullable(input.Message),
	)
	if err != nil {
		return fmt.Errorf("failed to record run step: %w", err)
	}
	return nil
}

// ListRunSteps retrieves all steps for a run, optionally filtered by stage
func (db *DB) ListRunSteps(ctx context.Context, runID string, stageID *string) ([]RunStep, error) {
	query := `SELECT id, run_id, stage_id, status, attempt, duration_ms, error_kind, message, created_at
	          FROM run_steps
	          WHERE run_id = $1`
	args := []any{runID}

	if stageID != nil {
		query += " AND stage_id = $2"
		args = append(args, *stageID)
	}

	query += " ORDER BY id"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var steps []RunStep
	for rows.Next() {
		var step RunStep
		if err := rows.Scan(&step.ID, &step.RunID, &step.StageID, &step.Status, &step.Attempt,
			&step.DurationMs, &step.ErrorKind, &step.Message, &step.CreatedAt); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}
