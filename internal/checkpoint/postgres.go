package checkpoint

import (
	"context"
	"encoding/json"

	"github.com/jonathan/reel-forge/internal/db"
	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"
)

// PostgresStore keeps entries in the stage_checkpoints table. The primary
// key on (run_id, stage_id) makes a duplicate Save a no-op.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.db.SaveCheckpoint(ctx, &db.Checkpoint{
		RunID:        e.RunID,
		StageID:      e.StageID,
		Index:        e.Index,
		Status:       string(e.Status),
		Data:         e.Data,
		Attempts:     e.Attempts,
		CompletedAt:  e.CompletedAt,
		StageVersion: e.StageVersion,
		ErrorKind:    string(e.ErrorKind),
		ErrorMessage: e.ErrorMessage,
		Degraded:     e.Degraded,
		Checksum:     e.Checksum,
	})
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, runID, stageID string) (Entry, error) {
	cp, err := s.db.GetCheckpoint(ctx, runID, stageID)
	if err != nil {
		return Entry{}, err
	}
	if cp == nil {
		return Entry{}, ErrNotFound
	}
	return Entry{
		RunID:        cp.RunID,
		StageID:      cp.StageID,
		Index:        cp.Index,
		Status:       stage.Status(cp.Status),
		Data:         json.RawMessage(cp.Data),
		Attempts:     cp.Attempts,
		CompletedAt:  cp.CompletedAt.UTC(),
		StageVersion: cp.StageVersion,
		ErrorKind:    fault.Kind(cp.ErrorKind),
		ErrorMessage: cp.ErrorMessage,
		Degraded:     cp.Degraded,
		Checksum:     cp.Checksum,
	}, nil
}

// ListCompleted implements Store.
func (s *PostgresStore) ListCompleted(ctx context.Context, runID string) ([]string, error) {
	return s.db.ListCheckpointStages(ctx, runID)
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, runID string) error {
	return s.db.DeleteCheckpoints(ctx, runID)
}
