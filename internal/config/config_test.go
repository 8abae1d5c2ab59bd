package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/reel-forge/internal/stage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	t.Setenv("REEL_TEST_GEMINI_KEY", "secret-key")
	path := writeConfig(t, `
pipeline: script
concurrency: 8
run_retries: 0
defaults:
  max_attempts: 4
  base_delay: 500ms
  max_delay: 10s
  jitter_ratio: 0.1
stages:
  subtitles:
    on_failure: degrade
    timeout: 45s
dependencies:
  tts:
    failure_threshold: 3
    reset_timeout: 1m
    max_concurrency: 2
llm:
  api_key: ${REEL_TEST_GEMINI_KEY}
  models:
    standard: gemini-2.5-flash
checkpoint:
  backend: sqlite
  path: /tmp/cp.db
log:
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "script", cfg.Pipeline)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 0, cfg.RunRetryLimit())
	assert.Equal(t, 4, cfg.Defaults.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Defaults.BaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.Defaults.Timeout, "unset default comes from Default()")
	assert.Equal(t, "secret-key", cfg.LLM.APIKey)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.MediaIdempotent())
}

func TestLoadConfig_JSONIsAccepted(t *testing.T) {
	path := writeConfig(t, `{"pipeline": "shorts", "concurrency": 2}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "shorts", cfg.Pipeline)
	assert.Equal(t, 2, cfg.RunRetryLimit())
	assert.Equal(t, BackendFile, cfg.Checkpoint.Backend)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "pipeline: [unclosed"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "pipline: shorts\n"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipline")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/reel.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad failure policy", "stages:\n  voice:\n    on_failure: retry\n", "OnFailure"},
		{"jitter above one", "defaults:\n  jitter_ratio: 1.5\n", "JitterRatio"},
		{"base above max", "defaults:\n  base_delay: 1m\n  max_delay: 1s\n", "exceeds max_delay"},
		{"negative timeout", "stages:\n  video:\n    timeout: -1s\n", "non-negative"},
		{"unknown backend", "checkpoint:\n  backend: redis\n", "Backend"},
		{"postgres without url", "checkpoint:\n  backend: postgres\n", "database_url"},
		{"bad model tier", "llm:\n  models:\n    huge: x\n", "Models"},
		{"bad media url", "media:\n  base_url: not a url\n", "BaseURL"},
		{"bad log level", "log:\n  level: verbose\n", "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := &Config{
		Pipeline: "script",
		Defaults: StagePolicy{MaxAttempts: 7},
	}
	merged := cfg.MergeWithDefaults(Default())

	assert.Equal(t, "script", merged.Pipeline)
	assert.Equal(t, 7, merged.Defaults.MaxAttempts)
	assert.Equal(t, time.Second, merged.Defaults.BaseDelay)
	require.NotNil(t, merged.Defaults.JitterRatio)
	assert.InDelta(t, 0.2, *merged.Defaults.JitterRatio, 1e-9)
	assert.Equal(t, 4, merged.Concurrency)
}

func TestMergeWithDefaults_EmptyDefaults(t *testing.T) {
	cfg := &Config{Concurrency: 3}
	merged := cfg.MergeWithDefaults(Config{})
	assert.Equal(t, 3, merged.Concurrency)
	assert.Empty(t, merged.Pipeline)
	assert.Nil(t, merged.RunRetries)
}

func TestStagePolicy_Precedence(t *testing.T) {
	cfg, err := Parse([]byte(`
defaults:
  max_attempts: 5
  timeout: 1m
stages:
  images:
    max_attempts: 2
`))
	require.NoError(t, err)

	builtin := stage.Policy{OnFailure: stage.Degrade, Timeout: 5 * time.Minute}

	images, err := cfg.StagePolicy("images", builtin)
	require.NoError(t, err)
	assert.Equal(t, 2, images.Retry.MaxAttempts, "stage section wins")
	assert.Equal(t, 5*time.Minute, images.Timeout, "built-in beats defaults")
	assert.Equal(t, stage.Degrade, images.OnFailure)
	assert.InDelta(t, 0.2, images.Retry.JitterRatio, 1e-9)

	voice, err := cfg.StagePolicy("voice", stage.Policy{})
	require.NoError(t, err)
	assert.Equal(t, 5, voice.Retry.MaxAttempts)
	assert.Equal(t, time.Minute, voice.Timeout)
	assert.Equal(t, time.Second, voice.Retry.BaseDelay)
	assert.Equal(t, stage.Abort, voice.OnFailure)
}

func TestStagePolicy_SkipAlias(t *testing.T) {
	cfg, err := Parse([]byte("stages:\n  vision:\n    on_failure: skip_and_continue\n"))
	require.NoError(t, err)
	p, err := cfg.StagePolicy("vision", stage.Policy{})
	require.NoError(t, err)
	assert.Equal(t, stage.SkipAndContinue, p.OnFailure)
}

func TestBreakers(t *testing.T) {
	cfg, err := Parse([]byte("dependencies:\n  tts:\n    failure_threshold: 2\n  llm:\n    reset_timeout: 5s\n"))
	require.NoError(t, err)

	def, overrides := cfg.Breakers()
	assert.Equal(t, 5, def.FailureThreshold)
	assert.Equal(t, 2, overrides["tts"].FailureThreshold)
	assert.Equal(t, def.ResetTimeout, overrides["tts"].ResetTimeout)
	assert.Equal(t, 5*time.Second, overrides["llm"].ResetTimeout)
	assert.Equal(t, def.FailureThreshold, overrides["llm"].FailureThreshold)
}

func TestPoolSize(t *testing.T) {
	cfg, err := Parse([]byte(`
concurrency: 6
dependencies:
  tts: {max_concurrency: 3}
  video: {max_concurrency: 2}
  llm: {failure_threshold: 4}
`))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.PoolSize([]string{"llm", "tts", "video"}))
	assert.Equal(t, 3, cfg.PoolSize([]string{"tts"}))
	assert.Equal(t, 6, cfg.PoolSize([]string{"llm"}))
	assert.Equal(t, map[string]int{"tts": 3, "video": 2}, cfg.DependencyLimits())

	zero := &Config{}
	assert.Equal(t, 1, zero.PoolSize(nil))
}
