package stage

import (
	"context"
	"fmt"
)

type runInfoKey struct{}

// RunInfo identifies the execution a stage call belongs to. Collaborators use
// it to derive idempotency keys.
type RunInfo struct {
	RunID    string
	Pipeline string
	StageID  string
	Index    int
	Attempt  int
}

// IdempotencyKey is stable across retries and resumes of the same stage in the same run.
func (ri RunInfo) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", ri.RunID, ri.StageID)
}

// WithRunInfo returns ctx carrying ri.
func WithRunInfo(ctx context.Context, ri RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, ri)
}

// RunInfoFrom extracts the RunInfo injected by the runner.
func RunInfoFrom(ctx context.Context) (RunInfo, bool) {
	ri, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return ri, ok
}
