package db

import (
	"time"
)

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run represents a pipeline run record
type Run struct {
	ID          string     `json:"id"`
	Pipeline    string     `json:"pipeline"`
	Status      string     `json:"status"`
	ErrorKind   *string    `json:"error_kind,omitempty"`
	StageID     *string    `json:"stage_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStep is one recorded stage transition of a run
type RunStep struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	StageID    string    `json:"stage_id"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	DurationMs int64     `json:"duration_ms"`
	ErrorKind  *string   `json:"error_kind,omitempty"`
	Message    *string   `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStepInput represents input for recording a stage transition
type RunStepInput struct {
	StageID    string
	Status     string
	Attempt    int
	DurationMs int64
	ErrorKind  string
	Message    string
}

// Checkpoint is the stored form of one stage checkpoint
type Checkpoint struct {
	RunID        string
	StageID      string
	Index        int
	Status       string
	Data         []byte
	Attempts     int
	CompletedAt  time.Time
	StageVersion int
	ErrorKind    string
	ErrorMessage string
	Degraded     bool
	Checksum     string
}

// nullable maps an empty string to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
