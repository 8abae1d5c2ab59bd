// Package stage defines the contract every pipeline step implements and the
// result record the runner produces for each execution.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/retry"
)

// Status of a stage within one run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s ends the stage.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// FailurePolicy decides what the runner does once a stage has failed for good.
type FailurePolicy string

const (
	// Abort stops the whole run. It is the default.
	Abort FailurePolicy = "abort"
	// SkipAndContinue forwards the previous output unchanged.
	SkipAndContinue FailurePolicy = "skip"
	// Degrade substitutes the stage's fallback output.
	Degrade FailurePolicy = "degrade"
)

// ParseFailurePolicy accepts "", "abort", "skip", "skip_and_continue" and "degrade".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "skip", "skip_and_continue":
		return SkipAndContinue, nil
	case "degrade":
		return Degrade, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want abort, skip or degrade)", s)
	}
}

// Descriptor identifies a stage. It is immutable once registered.
type Descriptor struct {
	ID         string
	Name       string
	Version    int
	InputType  string
	OutputType string
	// Dependency names the external service the stage calls; stages sharing a
	// dependency share a circuit breaker. Empty means no breaker.
	Dependency string
	// Idempotent is false when a repeated Execute could corrupt external state.
	// Such stages never get more than one attempt.
	Idempotent bool
}

// Stage is one typed step of a pipeline.
type Stage interface {
	Descriptor() Descriptor
	// Validate performs structural checks on input. It must not do I/O.
	Validate(input any) error
	// Execute produces the stage output. ctx carries the attempt deadline.
	Execute(ctx context.Context, input any) (any, error)
	// DecodeOutput restores an output previously serialized to a checkpoint.
	DecodeOutput(data []byte) (any, error)
}

// Degrader is implemented by stages that can substitute a fallback output.
type Degrader interface {
	Fallback(ctx context.Context, input any) (any, error)
}

// ErrNoFallback is returned by Fallback when the stage has none.
var ErrNoFallback = errors.New("stage has no fallback")

// Policy is the per-stage execution configuration.
type Policy struct {
	Retry     retry.Policy
	OnFailure FailurePolicy
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
}

// DefaultPolicy aborts on failure with the default retry budget.
func DefaultPolicy() Policy {
	return Policy{Retry: retry.DefaultPolicy(), OnFailure: Abort, Timeout: 2 * time.Minute}
}

// Effective returns the policy actually applied to d: non-idempotent stages
// are capped at one attempt and an empty failure policy means Abort.
func (p Policy) Effective(d Descriptor) Policy {
	p.Retry = p.Retry.Normalize()
	if !d.Idempotent {
		p.Retry.MaxAttempts = 1
	}
	if p.OnFailure == "" {
		p.OnFailure = Abort
	}
	return p
}

// Result is the outcome of one stage within a run.
type Result struct {
	StageID      string
	Status       Status
	Data         any
	StartedAt    time.Time
	CompletedAt  time.Time
	Attempts     int
	ErrorKind    fault.Kind
	ErrorMessage string
	// Restored is set when the result was loaded from a checkpoint.
	Restored bool
	// Degraded is set when Data came from the stage's fallback.
	Degraded bool
}

// Duration returns CompletedAt - StartedAt.
func (r Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Failed reports whether the result ended in failure.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}
