package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/reel-forge/internal/breaker"
	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/retry"
)

// minCircuitWait is the run-level wait when a breaker reports no remaining
// reset time, which happens while another run holds the half-open probe.
const minCircuitWait = time.Second

// Item is one independent run of a batch.
type Item struct {
	RunID string
	Input any
}

// Outcome is the result of one item.
type Outcome struct {
	RunID string
	Run   *Run
	Err   error
	// Tries counts Runner.Run calls, including run-level retries after an open circuit.
	Tries int
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Size bounds concurrent runs. Values below 1 mean 1.
	Size int
	// RunRetries is how many times a run aborted by an open circuit is resumed
	// after the breaker's reset timeout.
	RunRetries int
	Sleep      retry.SleepFunc
	Logger     *slog.Logger
}

// Pool runs independent items of a batch on a bounded set of goroutines.
type Pool struct {
	runner     *Runner
	size       int
	runRetries int
	sleep      retry.SleepFunc
	logger     *slog.Logger
}

// NewPool creates a pool that runs items through runner.
func NewPool(runner *Runner, opts PoolOptions) *Pool {
	p := &Pool{
		runner:     runner,
		size:       max(opts.Size, 1),
		runRetries: max(opts.RunRetries, 0),
		sleep:      opts.Sleep,
		logger:     opts.Logger,
	}
	if p.sleep == nil {
		p.sleep = retry.Sleep
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.size
}

// RunAll runs every item and returns outcomes in item order. A failing item
// never stops the others; cancel ctx to stop the batch.
func (p *Pool) RunAll(ctx context.Context, def *Definition, items []Item) []Outcome {
	outcomes := make([]Outcome, len(items))
	var g errgroup.Group
	g.SetLimit(p.size)
	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = p.runOne(ctx, def, item)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pool) runOne(ctx context.Context, def *Definition, item Item) Outcome {
	out := Outcome{RunID: item.RunID}
	for {
		out.Tries++
		out.Run, out.Err = p.runner.Run(ctx, item.RunID, def, item.Input)
		if out.Err == nil || fault.Classify(out.Err) != fault.KindCircuitOpen || out.Tries > p.runRetries {
			return out
		}

		wait := minCircuitWait
		var open *breaker.OpenError
		if errors.As(out.Err, &open) && open.RetryAfter > wait {
			wait = open.RetryAfter
		}
		p.logger.Info("circuit open, resuming run after reset", "run_id", item.RunID,
			"try", out.Tries, "wait", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return out
		}
	}
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// ItemRunID derives the run id of one item of a batch. A single-item batch
// uses the batch id itself; otherwise the id is a name-based UUID so
// resuming the batch id resumes every item.
func ItemRunID(batchID, key string, items int) string {
	if items <= 1 {
		return batchID
	}
	ns, err := uuid.Parse(batchID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceURL, []byte(batchID))
	}
	return uuid.NewSHA1(ns, []byte(key)).String()
}
