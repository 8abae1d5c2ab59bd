// Package retry runs fallible operations under an exponential backoff policy
// with jitter. Only transient failures are retried.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jonathan/reel-forge/internal/fault"
)

// Policy configures retries for one stage.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
}

// DefaultPolicy is used when a stage has no explicit policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		JitterRatio: 0.2,
	}
}

// Normalize clamps out-of-range values: at least one attempt, jitter in [0, 1].
func (p Policy) Normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	}
	if p.JitterRatio > 1 {
		p.JitterRatio = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Delay returns the pre-jitter delay before the n-th retry (n >= 1):
// min(MaxDelay, BaseDelay * 2^(n-1)). A zero MaxDelay means uncapped.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		// stop doubling before overflow
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Jitter scales d by 1 + JitterRatio*(2r-1) for a single draw r in [0, 1),
// so the result lies in [d*(1-JitterRatio), d*(1+JitterRatio)).
func (p Policy) Jitter(d time.Duration, r float64) time.Duration {
	if p.JitterRatio == 0 || d == 0 {
		return d
	}
	// map r from [0,1) onto [-1,1)
	factor := 1 + p.JitterRatio*(2*r-1)
	return time.Duration(float64(d) * factor)
}

// Attempt records one failed call.
type Attempt struct {
	Number int
	Kind   fault.Kind
	Err    error
	Delay  time.Duration // sleep taken after this attempt, zero for the last
}

// Error is returned when a call did not succeed. It carries every attempt.
type Error struct {
	Attempts  []Attempt
	Exhausted bool // true when MaxAttempts transient failures were used up
}

func (e *Error) last() Attempt {
	if len(e.Attempts) == 0 {
		return Attempt{}
	}
	return e.Attempts[len(e.Attempts)-1]
}

func (e *Error) Error() string {
	last := e.last()
	if e.Exhausted {
		return fmt.Sprintf("gave up after %d attempts: %v", len(e.Attempts), last.Err)
	}
	return fmt.Sprintf("attempt %d failed (%s): %v", last.Number, last.Kind, last.Err)
}

func (e *Error) Unwrap() error {
	return e.last().Err
}

// FaultKind reports the kind of the final attempt.
func (e *Error) FaultKind() fault.Kind {
	return e.last().Kind
}

// History renders the attempt list for operators.
func (e *Error) History() string {
	var sb strings.Builder
	for i, a := range e.Attempts {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "#%d %s: %v", a.Number, a.Kind, a.Err)
	}
	return sb.String()
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc. It parks only the calling goroutine.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier executes calls under a Policy.
type Retrier struct {
	policy   Policy
	classify func(error) fault.Kind
	sleep    SleepFunc
	rand     func() float64
	onRetry  func(a Attempt)
}

// Option customises a Retrier.
type Option func(*Retrier)

// WithClassifier overrides fault.Classify.
func WithClassifier(fn func(error) fault.Kind) Option {
	return func(r *Retrier) { r.classify = fn }
}

// WithSleep overrides the backoff wait; tests use it to avoid real sleeps.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// WithRand overrides the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(r *Retrier) { r.rand = fn }
}

// WithOnRetry registers a hook called before each backoff sleep.
func WithOnRetry(fn func(a Attempt)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New returns a Retrier for p.
func New(p Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy:   p.Normalize(),
		classify: fault.Classify,
		sleep:    Sleep,
		rand:     rand.Float64, //nolint:gosec // jitter doesn't need crypto-strength randomness
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the normalized policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do calls fn until it succeeds, fails with a non-transient error, or
// MaxAttempts is reached. It returns the number of calls made. attempt is
// 1-based.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var history []Attempt
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			history = append(history, Attempt{Number: attempt, Kind: fault.KindCanceled, Err: err})
			return attempt - 1, &Error{Attempts: history}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		kind := r.classify(err)
		a := Attempt{Number: attempt, Kind: kind, Err: err}
		if !kind.Retryable() {
			history = append(history, a)
			return attempt, &Error{Attempts: history}
		}
		if attempt >= r.policy.MaxAttempts {
			history = append(history, a)
			return attempt, &Error{Attempts: history, Exhausted: true}
		}

		a.Delay = r.policy.Jitter(r.policy.Delay(attempt), r.rand())
		history = append(history, a)
		if r.onRetry != nil {
			r.onRetry(a)
		}
		if err := r.sleep(ctx, a.Delay); err != nil {
			history = append(history, Attempt{Number: attempt + 1, Kind: fault.KindCanceled, Err: err})
			return attempt, &Error{Attempts: history}
		}
	}
}
