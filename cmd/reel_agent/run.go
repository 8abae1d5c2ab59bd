package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/reel-forge/internal/breaker"
	"github.com/jonathan/reel-forge/internal/config"
	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/observability"
	"github.com/jonathan/reel-forge/internal/pipeline"
	"github.com/jonathan/reel-forge/internal/pipeline/steps"
	"github.com/jonathan/reel-forge/internal/telemetry"
	"github.com/jonathan/reel-forge/internal/types"
)

// version is set at build time.
var version = "dev"

type runOptions struct {
	pipeline    string
	input       string
	resume      string
	backend     string
	concurrency int
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline over an input file",
		Long: `Runs the named pipeline over the briefs in --input. The file holds one brief or
{"items": [...]}; every item becomes an independent run.

A failed run is resumed with --resume <run id>: checkpointed stages are restored
and execution continues at the failed stage.

Exit codes: 0 success, 1 stage failure, 2 validation error, 3 circuit open.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, g, o)
		},
	}
	cmd.Flags().StringVarP(&o.pipeline, "pipeline", "p", "", "Pipeline name (see 'pipelines')")
	cmd.Flags().StringVarP(&o.input, "input", "i", "", "Path to the input JSON file")
	cmd.Flags().StringVar(&o.resume, "resume", "", "Run id of a previous run to resume")
	cmd.Flags().StringVar(&o.backend, "backend", "", "Checkpoint backend override (file, sqlite, postgres, memory)")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 0, "Concurrent runs override")
	return cmd
}

// applyFlags overrides cfg with the flags that were explicitly set.
func (o *runOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("pipeline") {
		cfg.Pipeline = o.pipeline
	}
	if cmd.Flags().Changed("backend") {
		cfg.Checkpoint.Backend = o.backend
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	return cfg.Validate()
}

func runPipeline(cmd *cobra.Command, g *globalOptions, o *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := o.applyFlags(cmd, cfg); err != nil {
		return err
	}
	if o.input == "" {
		return &exitError{code: exitValidation, err: errors.New("--input is required")}
	}
	data, err := os.ReadFile(o.input)
	if err != nil {
		return fault.Validation(fmt.Errorf("failed to read input: %w", err))
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	collab, closeCollab, err := newCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCollab()

	def, err := steps.Build(cfg.Pipeline, collab, stageSettings(cfg), cfg.StagePolicy)
	if err != nil {
		return err
	}

	batchID := o.resume
	if batchID == "" {
		batchID = pipeline.NewRunID()
	}
	items, err := decodeItems(def, data, batchID)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	sinks := []observability.Sink{observability.NewLogSink(a.logger), printer}
	if m, err := observability.NewMetricsSink(telemetry.Meter()); err != nil {
		a.logger.Warn("metrics disabled", "error", err)
	} else {
		sinks = append(sinks, m)
	}

	defaults, overrides := cfg.Breakers()
	opts := pipeline.Options{
		Store:    a.store,
		Breakers: breaker.NewRegistry(defaults, overrides),
		Logger:   a.logger,
		Limits:   cfg.DependencyLimits(),
	}
	if a.db != nil {
		opts.Records = a.db
		sinks = append(sinks, observability.NewStepLog(a.db, a.logger))
	}
	opts.Sink = observability.Multi(sinks...)

	runner, err := pipeline.NewRunner(opts)
	if err != nil {
		return err
	}
	pool := pipeline.NewPool(runner, pipeline.PoolOptions{
		Size:       cfg.PoolSize(def.Dependencies()),
		RunRetries: cfg.RunRetryLimit(),
		Logger:     a.logger,
	})

	a.logger.Info("starting batch", "batch_id", batchID, "pipeline", def.Name,
		"items", len(items), "concurrency", pool.Size(), "resume", o.resume != "")

	outcomes := pool.RunAll(ctx, def, items)
	for _, out := range outcomes {
		printOutcome(printer, def, out)
	}
	return batchError(batchID, outcomes)
}

func printOutcome(p *observability.Printer, def *pipeline.Definition, out pipeline.Outcome) {
	s := observability.Summary{RunID: out.RunID, Pipeline: def.Name, Outcome: "completed"}
	if out.Err != nil {
		s.Outcome = fmt.Sprintf("failed (%s)", fault.Classify(out.Err))
	}
	if out.Run != nil {
		for _, r := range out.Run.Results {
			s.Stages = append(s.Stages, observability.StageLine{
				StageID:   r.StageID,
				Status:    r.Status,
				Attempts:  r.Attempts,
				Duration:  r.Duration(),
				ErrorKind: string(r.ErrorKind),
				Restored:  r.Restored,
				Degraded:  r.Degraded,
			})
		}
	}
	p.PrintRunSummary(s)

	if out.Err != nil || out.Run == nil {
		return
	}
	switch v := out.Run.Output.(type) {
	case types.Release:
		p.PrintRelease(&v)
	case types.Script:
		p.PrintScript(&v)
	}
}

// batchError returns nil when every run completed. Otherwise the first
// failed run in input order decides the exit code.
func batchError(batchID string, outcomes []pipeline.Outcome) error {
	var first error
	failed := 0
	for _, out := range outcomes {
		if out.Err == nil {
			continue
		}
		failed++
		if first == nil {
			first = out.Err
		}
	}
	if first == nil {
		return nil
	}
	if len(outcomes) == 1 {
		return fmt.Errorf("%w (resume with --resume %s)", first, batchID)
	}
	return fmt.Errorf("%d of %d runs failed, first: %w (resume with --resume %s)", failed, len(outcomes), first, batchID)
}
