package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {"name": {"type": "string"}, "age": {"type": "integer"}}
}`

func TestValidateJSONString_Valid(t *testing.T) {
	assert.NoError(t, ValidateJSONString(personSchema, `{"name": "Ada", "age": 36}`))
}

func TestValidateJSONString_MissingField(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"age": 36}`)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Errors, 1)
	assert.Equal(t, "(root)", validationErr.Errors[0].Field)
	assert.Contains(t, err.Error(), "name")
}

func TestValidateJSONString_WrongType(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"name": "Ada", "age": "old"}`)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "age", validationErr.Errors[0].Field)
}

func TestValidateJSONString_BadSchema(t *testing.T) {
	err := ValidateJSONString(`{"type": 12}`, `{}`)
	var loadErr *SchemaLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestGet_Embedded(t *testing.T) {
	for _, name := range []string{"brief", "script", "storyboard"} {
		s, err := Get(name)
		require.NoError(t, err, name)
		assert.Contains(t, s, `"$schema"`)
	}
	assert.ElementsMatch(t, []string{"brief", "script", "storyboard"}, Names())

	_, err := Get("nope")
	assert.Error(t, err)
}

func TestValidateValue(t *testing.T) {
	type brief struct {
		Key   string `json:"key"`
		Topic string `json:"topic"`
	}
	assert.NoError(t, ValidateValue("brief", brief{Key: "tech-en", Topic: "Deep sea vents"}))

	err := ValidateValue("brief", brief{Key: "has space", Topic: "ok?"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "brief", validationErr.Schema)
	assert.Equal(t, "key", validationErr.Errors[0].Field)
}

func TestValidateValue_StoryboardFrameNeedsImageOrColor(t *testing.T) {
	ok := map[string]any{
		"captioned": map[string]any{},
		"frames":    []map[string]any{{"scene": 0, "color": "#112233"}},
	}
	assert.NoError(t, ValidateValue("storyboard", ok))

	bad := map[string]any{
		"captioned": map[string]any{},
		"frames":    []map[string]any{{"scene": 0}},
	}
	assert.Error(t, ValidateValue("storyboard", bad))
}
