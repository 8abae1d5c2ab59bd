package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/retry"
	"github.com/jonathan/reel-forge/internal/types"
)

func newIdeaStage() *Typed[types.Brief, types.Idea] {
	desc := Descriptor{ID: "idea", Name: "Idea", Version: 1, InputType: types.TagBrief, OutputType: types.TagIdea, Dependency: "llm", Idempotent: true}
	return New(desc, func(_ context.Context, b types.Brief) (types.Idea, error) {
		return types.Idea{Brief: b, Title: "About " + b.Topic, Hook: "Did you know?"}, nil
	})
}

func TestTyped_ValidateTypeMismatch(t *testing.T) {
	err := newIdeaStage().Validate(types.Script{})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.Classify(err))
	assert.Contains(t, err.Error(), "expected types.Brief, got types.Script")
}

func TestTyped_ValidateRules(t *testing.T) {
	s := newIdeaStage().
		WithSchema("brief").
		WithCheck(func(b types.Brief) error {
			if b.Topic == "forbidden" {
				return errors.New("topic not allowed")
			}
			return nil
		})

	assert.NoError(t, s.Validate(types.Brief{Key: "a", Topic: "Comets"}))

	err := s.Validate(types.Brief{Key: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic failed required")

	err = s.Validate(types.Brief{Key: "a", Topic: "forbidden"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic not allowed")
	assert.True(t, fault.Is(err, fault.KindValidation))
}

func TestTyped_ExecuteAndDecode(t *testing.T) {
	s := newIdeaStage()
	out, err := s.Execute(context.Background(), types.Brief{Key: "a", Topic: "Comets"})
	require.NoError(t, err)
	idea, ok := out.(types.Idea)
	require.True(t, ok)
	assert.Equal(t, "About Comets", idea.Title)

	decoded, err := s.DecodeOutput([]byte(`{"brief":{"key":"a","topic":"Comets"},"title":"T","hook":"H"}`))
	require.NoError(t, err)
	assert.Equal(t, "T", decoded.(types.Idea).Title)

	_, err = s.DecodeOutput([]byte(`{`))
	assert.Error(t, err)

	in, err := s.DecodeInput([]byte(`{"key":"a","topic":"Comets"}`))
	require.NoError(t, err)
	assert.Equal(t, types.Brief{Key: "a", Topic: "Comets"}, in)
}

func TestTyped_ExecuteWrongType(t *testing.T) {
	_, err := newIdeaStage().Execute(context.Background(), 7)
	assert.Equal(t, fault.KindValidation, fault.Classify(err))
}

func TestTyped_Fallback(t *testing.T) {
	s := newIdeaStage()
	_, err := s.Fallback(context.Background(), types.Brief{})
	assert.ErrorIs(t, err, ErrNoFallback)

	s.WithFallback(func(_ context.Context, b types.Brief) (types.Idea, error) {
		return types.Idea{Brief: b, Title: b.Topic, Hook: b.Topic}, nil
	})
	out, err := s.Fallback(context.Background(), types.Brief{Topic: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", out.(types.Idea).Hook)

	var _ Degrader = s
	var _ Stage = s
}

func TestParseFailurePolicy(t *testing.T) {
	tests := map[string]FailurePolicy{
		"":                  Abort,
		"abort":             Abort,
		"Skip":              SkipAndContinue,
		"skip_and_continue": SkipAndContinue,
		" degrade ":         Degrade,
	}
	for in, want := range tests {
		got, err := ParseFailurePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFailurePolicy("retry-forever")
	assert.Error(t, err)
}

func TestPolicy_EffectiveCapsNonIdempotent(t *testing.T) {
	p := Policy{Retry: retry.Policy{MaxAttempts: 5}}

	eff := p.Effective(Descriptor{ID: "publish", Idempotent: false})
	assert.Equal(t, 1, eff.Retry.MaxAttempts)
	assert.Equal(t, Abort, eff.OnFailure)

	eff = p.Effective(Descriptor{ID: "idea", Idempotent: true})
	assert.Equal(t, 5, eff.Retry.MaxAttempts)
}

func TestResult_Duration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Result{StartedAt: start, CompletedAt: start.Add(1500 * time.Millisecond)}
	assert.Equal(t, 1500*time.Millisecond, r.Duration())
	assert.Equal(t, time.Duration(0), Result{StartedAt: start}.Duration())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusSkipped.Terminal())
}

func TestRunInfo(t *testing.T) {
	_, ok := RunInfoFrom(context.Background())
	assert.False(t, ok)

	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "r1", StageID: "voice", Attempt: 2})
	ri, ok := RunInfoFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "r1:voice", ri.IdempotencyKey())
	assert.Equal(t, 2, ri.Attempt)
}
