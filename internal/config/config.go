// Package config provides configuration loading and validation for the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/reel-forge/internal/breaker"
	"github.com/jonathan/reel-forge/internal/retry"
	"github.com/jonathan/reel-forge/internal/stage"
)

// Config is the engine configuration. It is read from a YAML (or JSON) file;
// ${VAR} references are expanded from the environment before parsing.
type Config struct {
	Pipeline    string `yaml:"pipeline,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty" validate:"gte=0,lte=256"`
	// RunRetries is how many times a run aborted by an open circuit is
	// resumed after the breaker's reset timeout.
	RunRetries *int `yaml:"run_retries,omitempty" validate:"omitempty,gte=0,lte=20"`

	Defaults     StagePolicy           `yaml:"defaults,omitempty"`
	Stages       map[string]StagePolicy `yaml:"stages,omitempty" validate:"dive"`
	Dependencies map[string]Dependency  `yaml:"dependencies,omitempty" validate:"dive"`

	Checkpoint CheckpointConfig `yaml:"checkpoint,omitempty"`
	Source     SourceConfig     `yaml:"source,omitempty"`
	LLM        LLMConfig        `yaml:"llm,omitempty"`
	Media      MediaConfig      `yaml:"media,omitempty"`
	Export     ExportConfig     `yaml:"export,omitempty"`
	Telemetry  TelemetryConfig  `yaml:"telemetry,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// StagePolicy is the retry, timeout and failure configuration of a stage.
// Zero fields inherit from defaults.
type StagePolicy struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty" validate:"gte=0,lte=20"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
	JitterRatio *float64      `yaml:"jitter_ratio,omitempty" validate:"omitempty,gte=0,lte=1"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	OnFailure   string        `yaml:"on_failure,omitempty" validate:"omitempty,oneof=abort skip skip_and_continue degrade"`
}

// Dependency configures the circuit breaker and in-flight limit shared by
// every stage naming the dependency.
type Dependency struct {
	FailureThreshold int           `yaml:"failure_threshold,omitempty" validate:"gte=0,lte=1000"`
	ResetTimeout     time.Duration `yaml:"reset_timeout,omitempty"`
	MaxConcurrency   int           `yaml:"max_concurrency,omitempty" validate:"gte=0,lte=256"`
}

// Checkpoint backends
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Backend     string `yaml:"backend,omitempty" validate:"omitempty,oneof=file sqlite postgres memory"`
	Dir         string `yaml:"dir,omitempty"`
	Path        string `yaml:"path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// SourceConfig configures the source article fetcher.
type SourceConfig struct {
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	UseBrowser bool          `yaml:"use_browser,omitempty"`
	MaxChars   int           `yaml:"max_chars,omitempty" validate:"gte=0"`
}

// LLMConfig configures the Gemini client.
type LLMConfig struct {
	APIKey      string            `yaml:"api_key,omitempty"`
	Models      map[string]string `yaml:"models,omitempty" validate:"dive,keys,oneof=lite standard advanced,endkeys,required"`
	Temperature *float32          `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
}

// MediaConfig configures the media gateway client.
type MediaConfig struct {
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key,omitempty"`
	// SigningKey enables short-lived HS256 bearer tokens instead of APIKey.
	SigningKey string `yaml:"signing_key,omitempty"`
	// IdempotencyKeys sends Idempotency-Key headers. Without them media
	// stages are treated as non-idempotent and get a single attempt.
	IdempotencyKeys *bool  `yaml:"idempotency_keys,omitempty"`
	Voice           string `yaml:"voice,omitempty"`
	Resolution      string `yaml:"resolution,omitempty" validate:"omitempty,oneof=720x1280 1080x1920 1080x1080 1920x1080"`
}

// ExportConfig configures the S3-compatible object store.
type ExportConfig struct {
	Endpoint      string `yaml:"endpoint,omitempty"`
	AccessKey     string `yaml:"access_key,omitempty"`
	SecretKey     string `yaml:"secret_key,omitempty"`
	Bucket        string `yaml:"bucket,omitempty"`
	Prefix        string `yaml:"prefix,omitempty"`
	UseSSL        bool   `yaml:"use_ssl,omitempty"`
	PublicBaseURL string `yaml:"public_base_url,omitempty" validate:"omitempty,url"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	jitter := 0.2
	idempotent := true
	runRetries := 2
	return Config{
		Pipeline:    "shorts",
		Concurrency: 4,
		RunRetries:  &runRetries,
		Defaults: StagePolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			JitterRatio: &jitter,
			Timeout:     2 * time.Minute,
			OnFailure:   string(stage.Abort),
		},
		Dependencies: map[string]Dependency{},
		Checkpoint: CheckpointConfig{
			Backend: BackendFile,
			Dir:     filepath.Join(".reel", "checkpoints"),
			Path:    filepath.Join(".reel", "checkpoints.db"),
		},
		Source: SourceConfig{
			Timeout:  30 * time.Second,
			MaxChars: 12000,
		},
		Media: MediaConfig{
			IdempotencyKeys: &idempotent,
			Resolution:      "1080x1920",
		},
		Export: ExportConfig{
			Prefix: "shorts",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig loads configuration from a YAML or JSON file, merges it over
// Default and validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	merged := cfg.MergeWithDefaults(Default())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config error: %s failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config error: %w", err)
	}

	if err := c.Defaults.check("defaults"); err != nil {
		return err
	}
	for _, id := range sortedKeys(c.Stages) {
		if err := c.Stages[id].check("stages." + id); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(c.Dependencies) {
		if c.Dependencies[name].ResetTimeout < 0 {
			return fmt.Errorf("config error: 'dependencies.%s.reset_timeout' must be non-negative", name)
		}
	}

	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Dir == "" {
			return fmt.Errorf("config error: 'checkpoint.dir' is required for the file backend")
		}
	case BackendSQLite:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("config error: 'checkpoint.path' is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Checkpoint.DatabaseURL == "" {
			return fmt.Errorf("config error: 'checkpoint.database_url' is required for the postgres backend")
		}
	}
	return nil
}

func (p StagePolicy) check(path string) error {
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.Timeout < 0 {
		return fmt.Errorf("config error: '%s' durations must be non-negative", path)
	}
	if p.BaseDelay > 0 && p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("config error: '%s.base_delay' exceeds max_delay", path)
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Pipeline == "" {
		result.Pipeline = defaults.Pipeline
	}
	if result.Concurrency == 0 {
		result.Concurrency = defaults.Concurrency
	}
	if result.RunRetries == nil {
		result.RunRetries = defaults.RunRetries
	}
	result.Defaults = result.Defaults.over(defaults.Defaults)

	if result.Dependencies == nil {
		result.Dependencies = defaults.Dependencies
	}

	if result.Checkpoint.Backend == "" {
		result.Checkpoint.Backend = defaults.Checkpoint.Backend
	}
	if result.Checkpoint.Dir == "" {
		result.Checkpoint.Dir = defaults.Checkpoint.Dir
	}
	if result.Checkpoint.Path == "" {
		result.Checkpoint.Path = defaults.Checkpoint.Path
	}
	if result.Checkpoint.DatabaseURL == "" {
		result.Checkpoint.DatabaseURL = defaults.Checkpoint.DatabaseURL
	}

	if result.Source.Timeout == 0 {
		result.Source.Timeout = defaults.Source.Timeout
	}
	if result.Source.MaxChars == 0 {
		result.Source.MaxChars = defaults.Source.MaxChars
	}

	if result.LLM.APIKey == "" {
		result.LLM.APIKey = defaults.LLM.APIKey
	}

	if result.Media.IdempotencyKeys == nil {
		result.Media.IdempotencyKeys = defaults.Media.IdempotencyKeys
	}
	if result.Media.Resolution == "" {
		result.Media.Resolution = defaults.Media.Resolution
	}
	if result.Export.Prefix == "" {
		result.Export.Prefix = defaults.Export.Prefix
	}

	if result.Log.Level == "" {
		result.Log.Level = defaults.Log.Level
	}
	if result.Log.Format == "" {
		result.Log.Format = defaults.Log.Format
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge

	return result
}

// over fills zero fields of p from base.
func (p StagePolicy) over(base StagePolicy) StagePolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = base.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = base.MaxDelay
	}
	if p.JitterRatio == nil {
		p.JitterRatio = base.JitterRatio
	}
	if p.Timeout == 0 {
		p.Timeout = base.Timeout
	}
	if p.OnFailure == "" {
		p.OnFailure = base.OnFailure
	}
	return p
}

// StagePolicy returns the execution policy of stageID. Each field comes from
// the stage's own section if set, else from the stage's built-in policy,
// else from defaults. Jitter has no built-in value.
func (c *Config) StagePolicy(stageID string, builtin stage.Policy) (stage.Policy, error) {
	own := c.Stages[stageID]
	def := c.Defaults

	out := stage.Policy{
		Retry: retry.Policy{
			MaxAttempts: first(own.MaxAttempts, builtin.Retry.MaxAttempts, def.MaxAttempts),
			BaseDelay:   first(own.BaseDelay, builtin.Retry.BaseDelay, def.BaseDelay),
			MaxDelay:    first(own.MaxDelay, builtin.Retry.MaxDelay, def.MaxDelay),
		},
		Timeout: first(own.Timeout, builtin.Timeout, def.Timeout),
	}
	switch {
	case own.JitterRatio != nil:
		out.Retry.JitterRatio = *own.JitterRatio
	case def.JitterRatio != nil:
		out.Retry.JitterRatio = *def.JitterRatio
	}

	policy, err := stage.ParseFailurePolicy(first(own.OnFailure, string(builtin.OnFailure), def.OnFailure))
	if err != nil {
		return stage.Policy{}, fmt.Errorf("stages.%s: %w", stageID, err)
	}
	out.OnFailure = policy
	return out, nil
}

// first returns the first non-zero value.
func first[T comparable](vals ...T) T {
	var zero T
	for _, v := range vals {
		if v != zero {
			return v
		}
	}
	return zero
}

// Breakers returns the default breaker configuration and per-dependency overrides.
func (c *Config) Breakers() (breaker.Config, map[string]breaker.Config) {
	def := breaker.DefaultConfig()
	overrides := make(map[string]breaker.Config, len(c.Dependencies))
	for name, d := range c.Dependencies {
		cfg := def
		if d.FailureThreshold > 0 {
			cfg.FailureThreshold = d.FailureThreshold
		}
		if d.ResetTimeout > 0 {
			cfg.ResetTimeout = d.ResetTimeout
		}
		overrides[name] = cfg
	}
	return def, overrides
}

// DependencyLimits returns the configured in-flight limit per dependency.
func (c *Config) DependencyLimits() map[string]int {
	limits := make(map[string]int)
	for name, d := range c.Dependencies {
		if d.MaxConcurrency > 0 {
			limits[name] = d.MaxConcurrency
		}
	}
	return limits
}

// PoolSize is the number of runs executed concurrently for a pipeline that
// uses deps: the smallest max_concurrency of those dependencies, else
// concurrency, else 1.
func (c *Config) PoolSize(deps []string) int {
	size := 0
	for _, name := range deps {
		if d, ok := c.Dependencies[name]; ok && d.MaxConcurrency > 0 {
			if size == 0 || d.MaxConcurrency < size {
				size = d.MaxConcurrency
			}
		}
	}
	if size == 0 {
		size = c.Concurrency
	}
	if size <= 0 {
		size = 1
	}
	return size
}

// RunRetryLimit returns run_retries, 0 when unset.
func (c *Config) RunRetryLimit() int {
	if c.RunRetries == nil {
		return 0
	}
	return *c.RunRetries
}

// MediaIdempotent reports whether media requests carry idempotency keys.
func (c *Config) MediaIdempotent() bool {
	return c.Media.IdempotencyKeys == nil || *c.Media.IdempotencyKeys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
