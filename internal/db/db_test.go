package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusConstants(t *testing.T) {
	assert.Equal(t, "running", RunStatusRunning)
	assert.Equal(t, "completed", RunStatusCompleted)
	assert.Equal(t, "failed", RunStatusFailed)
}

func TestSchema_IsIdempotent(t *testing.T) {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		assert.Contains(t, stmt, "IF NOT EXISTS", "statement should be re-runnable: %s", stmt)
	}
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	v := nullable("transient")
	if assert.NotNil(t, v) {
		assert.Equal(t, "transient", *v)
	}
	assert.Equal(t, "", deref(nil))
	assert.Equal(t, "x", deref(nullable("x")))
}
