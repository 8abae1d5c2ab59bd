package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Stage Checkpoints Methods
// -----------------------------------------------------------------------------

// SaveCheckpoint inserts a checkpoint. An existing (run_id, stage_id) row is
// left untouched.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO stage_checkpoints
		     (run_id, stage_id, stage_index, status, data, attempts, completed_at, stage_version,
		      error_kind, error_message, degraded, checksum)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (run_id, stage_id) DO NOTHING`,
		cp.RunID, cp.StageID, cp.Index, cp.Status, cp.Data, cp.Attempts, cp.CompletedAt, cp.StageVersion,
		nullable(cp.ErrorKind), nullable(cp.ErrorMessage), cp.Degraded, nullable(cp.Checksum),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s/%s: %w", cp.RunID, cp.StageID, err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint, returning nil when absent
func (db *DB) GetCheckpoint(ctx context.Context, runID, stageID string) (*Checkpoint, error) {
	var cp Checkpoint
	var errorKind, errorMessage, checksum *string
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, stage_id, stage_index, status, data, attempts, completed_at, stage_version,
		        error_kind, error_message, degraded, checksum
		 FROM stage_checkpoints WHERE run_id = $1 AND stage_id = $2`,
		runID, stageID,
	).Scan(&cp.RunID, &cp.StageID, &cp.Index, &cp.Status, &cp.Data, &cp.Attempts, &cp.CompletedAt,
		&cp.StageVersion, &errorKind, &errorMessage, &cp.Degraded, &checksum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	cp.ErrorKind = deref(errorKind)
	cp.ErrorMessage = deref(errorMessage)
	cp.Checksum = deref(checksum)
	return &cp, nil
}

// ListCheckpointStages returns checkpointed stage ids in pipeline order
func (db *DB) ListCheckpointStages(ctx context.Context, runID string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT stage_id FROM stage_checkpoints WHERE run_id = $1 ORDER BY stage_index, seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCheckpoints removes every checkpoint of a run
func (db *DB) DeleteCheckpoints(ctx context.Context, runID string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM stage_checkpoints WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
