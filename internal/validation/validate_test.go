package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/types"
)

func TestCheck_StructTags(t *testing.T) {
	err := Check("idea", types.Brief{Key: "k"}, Struct())
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "idea", verr.Stage)
	assert.Equal(t, []string{"topic failed required"}, verr.Reasons)
	assert.Equal(t, fault.KindValidation, fault.Classify(err))
	assert.Contains(t, err.Error(), "invalid input for stage idea")
}

func TestCheck_NestedDive(t *testing.T) {
	script := types.Script{
		Idea:   types.Idea{Brief: types.Brief{Key: "k", Topic: "Volcanoes"}, Title: "t", Hook: "h"},
		Scenes: []types.Scene{{Narration: "n"}},
	}
	err := Check("voice", script, Struct())
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"scenes[0].image_prompt failed required"}, verr.Reasons)
}

func TestCheck_ValidBriefPasses(t *testing.T) {
	b := types.Brief{Key: "science-teens", Topic: "Volcanoes", Language: "en", SourceURL: "https://example.com/a"}
	assert.NoError(t, Check("idea", b, Struct(), Schema("brief")))
}

func TestCheck_SchemaRule(t *testing.T) {
	err := Check("idea", types.Brief{Key: "bad key", Topic: "Volcanoes"}, Schema("brief"))
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Reasons, 1)
	assert.Contains(t, verr.Reasons[0], "key")
}

func TestCheck_FuncRuleTypeMismatch(t *testing.T) {
	rule := Func(func(b types.Brief) error { return nil })
	err := Check("idea", "not a brief", rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected types.Brief, got string")
}

func TestCheck_StopsAtFirstFailure(t *testing.T) {
	called := false
	err := Check("s", 1,
		func(any) error { return errors.New("first") },
		func(any) error { called = true; return nil },
	)
	require.Error(t, err)
	assert.False(t, called)
}

func TestStruct_NilPointer(t *testing.T) {
	var b *types.Brief
	assert.Error(t, Value(b))
	assert.NoError(t, Value(42))
}
