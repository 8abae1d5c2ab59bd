package observability

import (
	"context"
	"log/slog"

	"github.com/jonathan/reel-forge/internal/db"
)

// StepRecorder is the subset of *db.DB used by StepLog.
type StepRecorder interface {
	RecordRunStep(ctx context.Context, runID string, input *db.RunStepInput) error
}

// StepLog persists every event as a run_steps row.
type StepLog struct {
	store  StepRecorder
	logger *slog.Logger
}

// NewStepLog uses slog.Default when logger is nil.
func NewStepLog(store StepRecorder, logger *slog.Logger) *StepLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepLog{store: store, logger: logger}
}

// Emit implements Sink.
func (s *StepLog) Emit(ctx context.Context, e Event) {
	err := s.store.RecordRunStep(context.WithoutCancel(ctx), e.RunID, &db.RunStepInput{
		StageID:    e.StageID,
		Status:     string(e.Status),
		Attempt:    e.Attempt,
		DurationMs: e.DurationMs,
		ErrorKind:  string(e.ErrorKind),
		Message:    e.Message,
	})
	if err != nil {
		s.logger.Warn("record run step failed", "run_id", e.RunID, "stage", e.StageID, "error", err)
	}
}
