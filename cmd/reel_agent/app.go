package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jonathan/reel-forge/internal/checkpoint"
	"github.com/jonathan/reel-forge/internal/config"
	"github.com/jonathan/reel-forge/internal/db"
	"github.com/jonathan/reel-forge/internal/export"
	"github.com/jonathan/reel-forge/internal/fetch"
	"github.com/jonathan/reel-forge/internal/llm"
	"github.com/jonathan/reel-forge/internal/media"
	"github.com/jonathan/reel-forge/internal/pipeline/steps"
	"github.com/jonathan/reel-forge/internal/stages"
)

// app holds what every subcommand opens: config, logger and checkpoint store.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   checkpoint.Store
	db      *db.DB
	closers []func()
}

// loadConfig reads the config file, or the built-in defaults when none is given.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if g.configPath != "" {
		loaded, err := config.LoadConfig(g.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp opens the checkpoint store selected by cfg. With the postgres
// backend the run tables are migrated and a.db is set.
func openApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg.Log, stderr)}

	switch cfg.Checkpoint.Backend {
	case config.BackendMemory:
		a.store = checkpoint.NewMemoryStore()
	case config.BackendSQLite:
		s, err := checkpoint.OpenSQLite(ctx, cfg.Checkpoint.Path)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.closers = append(a.closers, func() { _ = s.Close() })
	case config.BackendPostgres:
		database, err := db.Connect(ctx, cfg.Checkpoint.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		a.db = database
		a.store = checkpoint.NewPostgresStore(database)
		a.closers = append(a.closers, database.Close)
	default:
		s, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir)
		if err != nil {
			return nil, err
		}
		a.store = s
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newCollaborators is replaced in tests.
var newCollaborators = buildCollaborators

// buildCollaborators creates the clients cfg configures. Unconfigured
// collaborators stay nil; steps.Build reports them when a stage needs one.
func buildCollaborators(ctx context.Context, cfg *config.Config) (steps.Collaborators, func(), error) {
	var c steps.Collaborators
	closeFn := func() {}

	fopts := fetch.DefaultOptions()
	if cfg.Source.Timeout > 0 {
		fopts.Timeout = cfg.Source.Timeout
	}
	fopts.UseBrowser = cfg.Source.UseBrowser
	c.Fetcher = &fetch.Fetcher{Options: fopts}

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey != "" {
		lcfg, err := llm.ConfigFrom(cfg.LLM.Models, cfg.LLM.Temperature)
		if err != nil {
			return c, closeFn, err
		}
		client, err := llm.NewGeminiClient(ctx, lcfg, apiKey)
		if err != nil {
			return c, closeFn, err
		}
		c.Writer = client
		closeFn = func() { _ = client.Close() }
	}

	if cfg.Media.BaseURL != "" {
		mc, err := media.New(media.Options{
			BaseURL:         cfg.Media.BaseURL,
			APIKey:          cfg.Media.APIKey,
			SigningKey:      cfg.Media.SigningKey,
			IdempotencyKeys: cfg.MediaIdempotent(),
		})
		if err != nil {
			return c, closeFn, err
		}
		c.Speaker, c.Transcriber, c.Illustrator, c.Composer = mc, mc, mc, mc
	}

	if cfg.Export.Bucket != "" {
		pub, err := export.NewPublisher(export.Config{
			Endpoint:      cfg.Export.Endpoint,
			AccessKey:     cfg.Export.AccessKey,
			SecretKey:     cfg.Export.SecretKey,
			UseSSL:        cfg.Export.UseSSL,
			Bucket:        cfg.Export.Bucket,
			Prefix:        cfg.Export.Prefix,
			PublicBaseURL: cfg.Export.PublicBaseURL,
		})
		if err != nil {
			return c, closeFn, err
		}
		c.Publisher = pub
	}
	return c, closeFn, nil
}

func stageSettings(cfg *config.Config) steps.Settings {
	return steps.Settings{
		Media: stages.MediaSettings{
			Voice:      cfg.Media.Voice,
			Resolution: cfg.Media.Resolution,
			Idempotent: cfg.MediaIdempotent(),
		},
		MaxSourceChars: cfg.Source.MaxChars,
	}
}
