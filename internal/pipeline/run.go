// Package pipeline runs stage definitions: one run advances strictly in order
// through its stages with retries, circuit breaking, checkpointing and
// failure policies, and a Pool runs many independent runs concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/reel-forge/internal/breaker"
	"github.com/jonathan/reel-forge/internal/checkpoint"
	"github.com/jonathan/reel-forge/internal/db"
	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/observability"
	"github.com/jonathan/reel-forge/internal/retry"
	"github.com/jonathan/reel-forge/internal/stage"
	"github.com/jonathan/reel-forge/internal/telemetry"
)

// Run is the state of one execution of a definition. Results has one entry
// per stage reached, in stage order.
type Run struct {
	RunID      string
	Pipeline   string
	Results    []stage.Result
	Cursor     int
	CreatedAt  time.Time
	FinishedAt time.Time
	// Output is the last stage's output once the run completed.
	Output any
}

// Result returns the result of stageID if the run reached it.
func (r *Run) Result(stageID string) (stage.Result, bool) {
	for _, res := range r.Results {
		if res.StageID == stageID {
			return res, true
		}
	}
	return stage.Result{}, false
}

// Restored counts the results loaded from checkpoints.
func (r *Run) Restored() int {
	n := 0
	for _, res := range r.Results {
		if res.Restored {
			n++
		}
	}
	return n
}

// RunError is returned when a run aborts. It names everything an operator
// needs to fix the cause and resume.
type RunError struct {
	RunID   string
	StageID string
	Kind    fault.Kind
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s aborted at stage %s (%s): %v", e.RunID, e.StageID, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// FaultKind implements fault.Kinder.
func (e *RunError) FaultKind() fault.Kind {
	return e.Kind
}

// RunRecorder persists run-level records. *db.DB implements it.
type RunRecorder interface {
	CreateRun(ctx context.Context, runID, pipeline string) error
	CompleteRun(ctx context.Context, runID, status, errorKind, stageID string) error
}

// Options configures a Runner.
type Options struct {
	// Store is required.
	Store checkpoint.Store
	// Breakers is shared by every runner that calls the same dependencies.
	// A private registry with default thresholds is created when nil.
	Breakers *breaker.Registry
	Sink     observability.Sink
	Logger   *slog.Logger
	// Limits caps in-flight calls per dependency across all runs of this runner.
	Limits map[string]int
	// Records receives run start and finish. Optional.
	Records RunRecorder
	Tracer  trace.Tracer
	// RetryOptions are applied to every stage retrier; tests inject sleeps here.
	RetryOptions []retry.Option
	Now          func() time.Time
}

// Runner executes definitions.
type Runner struct {
	store    checkpoint.Store
	breakers *breaker.Registry
	sink     observability.Sink
	logger   *slog.Logger
	records  RunRecorder
	tracer   trace.Tracer
	retry    []retry.Option
	now      func() time.Time
	limits   map[string]*semaphore.Weighted
}

// NewRunner validates opts and fills defaults.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: checkpoint store is required")
	}
	r := &Runner{
		store:    opts.Store,
		breakers: opts.Breakers,
		sink:     opts.Sink,
		logger:   opts.Logger,
		records:  opts.Records,
		tracer:   opts.Tracer,
		retry:    opts.RetryOptions,
		now:      opts.Now,
		limits:   make(map[string]*semaphore.Weighted, len(opts.Limits)),
	}
	if r.breakers == nil {
		r.breakers = breaker.NewRegistry(breaker.DefaultConfig(), nil)
	}
	if r.sink == nil {
		r.sink = observability.Discard
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = telemetry.Tracer()
	}
	if r.now == nil {
		r.now = time.Now
	}
	for dep, n := range opts.Limits {
		if n > 0 {
			r.limits[dep] = semaphore.NewWeighted(int64(n))
		}
	}
	return r, nil
}

// Breakers returns the registry the runner calls through.
func (r *Runner) Breakers() *breaker.Registry {
	return r.breakers
}

// Store returns the checkpoint store.
func (r *Runner) Store() checkpoint.Store {
	return r.store
}

// Run executes def for runID. Stages already checkpointed for runID are
// re-validated and restored instead of executed, so calling Run again after
// an abort resumes at the failed stage. The returned Run is non-nil whenever
// the definition was valid, including when err is a *RunError.
func (r *Runner) Run(ctx context.Context, runID string, def *Definition, input any) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := checkpoint.ValidateKey(runID); err != nil {
		return nil, fault.Validation(err)
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("pipeline.name", def.Name),
	))
	defer span.End()

	run := &Run{RunID: runID, Pipeline: def.Name, CreatedAt: r.now()}
	logger := r.logger.With("run_id", runID, "pipeline", def.Name)
	r.recordStart(ctx, run, logger)

	err := r.advance(ctx, run, def, input, logger)
	run.FinishedAt = r.now()
	r.recordFinish(ctx, run, err, logger)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return run, err
	}
	logger.Info("run completed", "stages", len(run.Results), "restored", run.Restored(),
		"duration_ms", run.FinishedAt.Sub(run.CreatedAt).Milliseconds())
	return run, nil
}

func (r *Runner) advance(ctx context.Context, run *Run, def *Definition, input any, logger *slog.Logger) error {
	done, err := r.store.ListCompleted(ctx, run.RunID)
	if err != nil {
		return &RunError{RunID: run.RunID, StageID: def.Steps[0].Stage.Descriptor().ID, Kind: fault.Classify(err), Err: fmt.Errorf("list checkpoints: %w", err)}
	}
	if err := checkPrefix(def, done); err != nil {
		return &RunError{RunID: run.RunID, StageID: err.stageID, Kind: fault.KindFatal, Err: err}
	}
	if len(done) > 0 {
		logger.Info("resuming run", "cursor", len(done), "stages", len(def.Steps))
	}

	for i := range done {
		out, err := r.restore(ctx, run, def.Steps[i], input)
		if err != nil {
			return err
		}
		input = out
		run.Cursor = i + 1
	}

	for i := len(done); i < len(def.Steps); i++ {
		step := def.Steps[i]
		desc := step.Stage.Descriptor()
		if err := ctx.Err(); err != nil {
			return &RunError{RunID: run.RunID, StageID: desc.ID, Kind: fault.KindCanceled, Err: err}
		}

		res, out, err := r.execute(ctx, run, i, step, input, logger)
		run.Results = append(run.Results, res)
		if err != nil {
			return err
		}

		if err := r.save(ctx, run.RunID, i, desc, res); err != nil {
			return &RunError{RunID: run.RunID, StageID: desc.ID, Kind: fault.Classify(err), Err: err}
		}
		run.Cursor = i + 1
		input = out
	}
	run.Output = input
	return nil
}

type prefixError struct {
	stageID string
	msg     string
}

func (e *prefixError) Error() string { return e.msg }

// checkPrefix verifies that the checkpointed stages are exactly the first
// len(done) stages of def, in order.
func checkPrefix(def *Definition, done []string) *prefixError {
	if len(done) > len(def.Steps) {
		return &prefixError{
			stageID: done[len(def.Steps)],
			msg:     fmt.Sprintf("run has %d checkpoints but pipeline %s has %d stages", len(done), def.Name, len(def.Steps)),
		}
	}
	for i, id := range done {
		want := def.Steps[i].Stage.Descriptor().ID
		if id != want {
			return &prefixError{
				stageID: want,
				msg:     fmt.Sprintf("checkpoint %d is stage %q, pipeline %s expects %q", i, id, def.Name, want),
			}
		}
	}
	return nil
}

// restore re-validates a checkpointed stage and appends its result without
// executing the stage.
func (r *Runner) restore(ctx context.Context, run *Run, step Step, input any) (any, error) {
	desc := step.Stage.Descriptor()
	fail := func(kind fault.Kind, err error) error {
		res := stage.Result{StageID: desc.ID, Status: stage.StatusFailed, StartedAt: r.now(), CompletedAt: r.now(), ErrorKind: kind, ErrorMessage: err.Error()}
		run.Results = append(run.Results, res)
		r.emit(ctx, run, res, 0)
		return &RunError{RunID: run.RunID, StageID: desc.ID, Kind: kind, Err: err}
	}

	if err := step.Stage.Validate(input); err != nil {
		return nil, fail(fault.KindValidation, fmt.Errorf("checkpointed input no longer valid: %w", err))
	}
	entry, err := r.store.Load(ctx, run.RunID, desc.ID)
	if err != nil {
		return nil, fail(fault.Classify(err), fmt.Errorf("load checkpoint: %w", err))
	}
	if err := entry.Verify(); err != nil {
		return nil, fail(fault.KindFatal, err)
	}
	if entry.Status != stage.StatusCompleted && entry.Status != stage.StatusSkipped {
		return nil, fail(fault.KindFatal, fmt.Errorf("checkpoint has status %s", entry.Status))
	}
	if entry.StageVersion != 0 && entry.StageVersion != desc.Version {
		return nil, fail(fault.KindFatal, fmt.Errorf("checkpoint written by stage version %d, current version is %d; clean the run to recompute", entry.StageVersion, desc.Version))
	}
	out, err := step.Stage.DecodeOutput(entry.Data)
	if err != nil {
		return nil, fail(fault.KindFatal, err)
	}

	res := stage.Result{
		StageID:      desc.ID,
		Status:       stage.StatusSkipped,
		Data:         out,
		StartedAt:    entry.CompletedAt,
		CompletedAt:  entry.CompletedAt,
		Attempts:     entry.Attempts,
		ErrorKind:    entry.ErrorKind,
		ErrorMessage: entry.ErrorMessage,
		Restored:     true,
		Degraded:     entry.Degraded,
	}
	run.Results = append(run.Results, res)
	r.emit(ctx, run, res, entry.Attempts)
	return out, nil
}

// execute validates and runs one stage, then applies its failure policy. The
// returned error is a *RunError when the run must stop.
func (r *Runner) execute(ctx context.Context, run *Run, index int, step Step, input any, logger *slog.Logger) (stage.Result, any, error) {
	desc := step.Stage.Descriptor()
	pol := step.Policy.Effective(desc)
	logger = logger.With("stage", desc.ID)

	ctx, span := r.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage.id", desc.ID),
		attribute.Int("stage.version", desc.Version),
		attribute.String("stage.dependency", desc.Dependency),
	))
	defer span.End()

	res := stage.Result{StageID: desc.ID, Status: stage.StatusRunning, StartedAt: r.now()}

	if err := step.Stage.Validate(input); err != nil {
		res = r.failed(res, 0, fault.KindValidation, err)
		r.emit(ctx, run, res, 0)
		span.SetStatus(codes.Error, err.Error())
		return res, nil, &RunError{RunID: run.RunID, StageID: desc.ID, Kind: fault.KindValidation, Err: err}
	}

	opts := append([]retry.Option{retry.WithOnRetry(func(a retry.Attempt) {
		logger.Info("retrying stage", "attempt", a.Number, "error_kind", a.Kind, "delay", a.Delay, "error", a.Err)
	})}, r.retry...)
	retrier := retry.New(pol.Retry, opts...)

	var out any
	attempts, err := retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		r.emit(ctx, run, stage.Result{StageID: desc.ID, Status: stage.StatusRunning, StartedAt: res.StartedAt, CompletedAt: r.now()}, attempt)
		ri := stage.RunInfo{RunID: run.RunID, Pipeline: run.Pipeline, StageID: desc.ID, Index: index, Attempt: attempt}
		o, err := r.call(ctx, ri, desc, pol, step.Stage, input)
		if err == nil {
			out = o
		}
		return err
	})
	span.SetAttributes(attribute.Int("stage.attempts", attempts))

	if err == nil {
		res.Status = stage.StatusCompleted
		res.Data = out
		res.Attempts = attempts
		res.CompletedAt = r.now()
		r.emit(ctx, run, res, attempts)
		return res, out, nil
	}

	kind := fault.Classify(err)
	failed := r.failed(res, attempts, kind, err)
	r.emit(ctx, run, failed, attempts)
	span.RecordError(err)
	abort := func(res stage.Result, err error) (stage.Result, any, error) {
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("stage failed", "error_kind", kind, "attempts", attempts, "error", err)
		return res, nil, &RunError{RunID: run.RunID, StageID: desc.ID, Kind: kind, Err: err}
	}

	if kind == fault.KindValidation || kind == fault.KindCanceled {
		return abort(failed, err)
	}

	switch pol.OnFailure {
	case stage.SkipAndContinue:
		skipped := stage.Result{
			StageID:      desc.ID,
			Status:       stage.StatusSkipped,
			Data:         input,
			StartedAt:    res.StartedAt,
			CompletedAt:  r.now(),
			Attempts:     attempts,
			ErrorKind:    kind,
			ErrorMessage: err.Error(),
		}
		logger.Warn("stage skipped", "error_kind", kind, "attempts", attempts, "error", err)
		r.emit(ctx, run, skipped, attempts)
		return skipped, input, nil

	case stage.Degrade:
		d, ok := step.Stage.(stage.Degrader)
		if !ok {
			return abort(failed, err)
		}
		fctx := stage.WithRunInfo(ctx, stage.RunInfo{RunID: run.RunID, Pipeline: run.Pipeline, StageID: desc.ID, Index: index})
		fb, ferr := d.Fallback(fctx, input)
		if ferr != nil {
			return abort(failed, fmt.Errorf("%w (fallback: %v)", err, ferr))
		}
		degraded := stage.Result{
			StageID:      desc.ID,
			Status:       stage.StatusCompleted,
			Data:         fb,
			StartedAt:    res.StartedAt,
			CompletedAt:  r.now(),
			Attempts:     attempts,
			ErrorKind:    kind,
			ErrorMessage: err.Error(),
			Degraded:     true,
		}
		logger.Warn("stage degraded", "error_kind", kind, "attempts", attempts, "error", err)
		r.emit(ctx, run, degraded, attempts)
		return degraded, fb, nil

	default:
		return abort(failed, err)
	}
}

// call performs one attempt: dependency slot, attempt deadline, breaker.
func (r *Runner) call(ctx context.Context, ri stage.RunInfo, desc stage.Descriptor, pol stage.Policy, st stage.Stage, input any) (any, error) {
	if sem, ok := r.limits[desc.Dependency]; ok {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer sem.Release(1)
	}

	ctx = stage.WithRunInfo(ctx, ri)
	if pol.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pol.Timeout)
		defer cancel()
	}

	var out any
	exec := func(ctx context.Context) error {
		o, err := st.Execute(ctx, input)
		if err == nil {
			out = o
		}
		return err
	}
	var err error
	if desc.Dependency == "" {
		err = exec(ctx)
	} else {
		err = r.breakers.Call(ctx, desc.Dependency, exec)
	}
	return out, err
}

func (r *Runner) failed(res stage.Result, attempts int, kind fault.Kind, err error) stage.Result {
	res.Status = stage.StatusFailed
	res.Attempts = attempts
	res.ErrorKind = kind
	res.ErrorMessage = err.Error()
	res.CompletedAt = r.now()
	return res
}

// save writes the checkpoint on a context detached from cancellation so an
// operator abort never leaves it half-written.
func (r *Runner) save(ctx context.Context, runID string, index int, desc stage.Descriptor, res stage.Result) error {
	entry, err := checkpoint.FromResult(runID, index, desc, res)
	if err != nil {
		return fault.Fatal(err)
	}
	if err := r.store.Save(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", runID, desc.ID, err)
	}
	return nil
}

func (r *Runner) emit(ctx context.Context, run *Run, res stage.Result, attempt int) {
	r.sink.Emit(ctx, observability.Event{
		RunID:      run.RunID,
		Pipeline:   run.Pipeline,
		StageID:    res.StageID,
		Status:     res.Status,
		DurationMs: res.Duration().Milliseconds(),
		Attempt:    attempt,
		ErrorKind:  res.ErrorKind,
		Message:    res.ErrorMessage,
		Restored:   res.Restored,
		Degraded:   res.Degraded,
		Time:       r.now(),
	})
}

func (r *Runner) recordStart(ctx context.Context, run *Run, logger *slog.Logger) {
	if r.records == nil {
		return
	}
	if err := r.records.CreateRun(context.WithoutCancel(ctx), run.RunID, run.Pipeline); err != nil {
		logger.Warn("record run start failed", "error", err)
	}
}

func (r *Runner) recordFinish(ctx context.Context, run *Run, runErr error, logger *slog.Logger) {
	if r.records == nil {
		return
	}
	status, kind, stageID := db.RunStatusCompleted, "", ""
	var re *RunError
	if errors.As(runErr, &re) {
		status, kind, stageID = db.RunStatusFailed, string(re.Kind), re.StageID
	}
	if err := r.records.CompleteRun(context.WithoutCancel(ctx), run.RunID, status, kind, stageID); err != nil {
		logger.Warn("record run finish failed", "error", err)
	}
}
