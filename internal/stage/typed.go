package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/validation"
)

// Typed adapts typed functions to the Stage interface. The input is type
// asserted to In; a mismatch is a validation failure.
type Typed[In, Out any] struct {
	desc     Descriptor
	rules    []validation.Rule
	run      func(ctx context.Context, in In) (Out, error)
	fallback func(ctx context.Context, in In) (Out, error)
}

// New builds a typed stage. Struct-tag validation always runs first.
func New[In, Out any](desc Descriptor, run func(ctx context.Context, in In) (Out, error)) *Typed[In, Out] {
	return &Typed[In, Out]{
		desc:  desc,
		rules: []validation.Rule{validation.Struct()},
		run:   run,
	}
}

// WithSchema adds a JSON-schema check of the input.
func (t *Typed[In, Out]) WithSchema(name string) *Typed[In, Out] {
	t.rules = append(t.rules, validation.Schema(name))
	return t
}

// WithCheck adds a custom pure predicate on the input.
func (t *Typed[In, Out]) WithCheck(fn func(In) error) *Typed[In, Out] {
	t.rules = append(t.rules, validation.Func(fn))
	return t
}

// WithFallback sets the output used by the Degrade policy.
func (t *Typed[In, Out]) WithFallback(fn func(ctx context.Context, in In) (Out, error)) *Typed[In, Out] {
	t.fallback = fn
	return t
}

// Descriptor implements Stage.
func (t *Typed[In, Out]) Descriptor() Descriptor {
	return t.desc
}

// Validate implements Stage.
func (t *Typed[In, Out]) Validate(input any) error {
	in, ok := input.(In)
	if !ok {
		var zero In
		return &validation.Error{
			Stage:   t.desc.ID,
			Reasons: []string{fmt.Sprintf("expected %T, got %T", zero, input)},
		}
	}
	return validation.Check(t.desc.ID, in, t.rules...)
}

// Execute implements Stage.
func (t *Typed[In, Out]) Execute(ctx context.Context, input any) (any, error) {
	in, ok := input.(In)
	if !ok {
		var zero In
		return nil, fault.Validationf("stage %s: expected %T, got %T", t.desc.ID, zero, input)
	}
	return t.run(ctx, in)
}

// Fallback implements Degrader.
func (t *Typed[In, Out]) Fallback(ctx context.Context, input any) (any, error) {
	if t.fallback == nil {
		return nil, ErrNoFallback
	}
	in, ok := input.(In)
	if !ok {
		var zero In
		return nil, fault.Validationf("stage %s: expected %T, got %T", t.desc.ID, zero, input)
	}
	return t.fallback(ctx, in)
}

// DecodeOutput implements Stage.
func (t *Typed[In, Out]) DecodeOutput(data []byte) (any, error) {
	var out Out
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", t.desc.ID, err)
	}
	return out, nil
}

// DecodeInput decodes raw JSON into the stage's input type. The CLI uses it
// to turn input files into typed values.
func (t *Typed[In, Out]) DecodeInput(data []byte) (any, error) {
	var in In
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", t.desc.ID, err)
	}
	return in, nil
}
