// Package breaker implements per-dependency circuit breakers. State is keyed
// by dependency name, so every stage and run calling the same service shares
// one breaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonathan/reel-forge/internal/fault"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the thresholds for one dependency.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig is used for dependencies without explicit settings.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// ErrOpen matches any *OpenError with errors.Is.
var ErrOpen = errors.New("circuit open")

// OpenError is returned without calling the dependency.
type OpenError struct {
	Dependency string
	OpenedAt   time.Time
	RetryAfter time.Duration // time left until a probe is allowed; zero while a probe is in flight
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %q (retry after %s)", e.Dependency, e.RetryAfter.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrOpen) work.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// FaultKind implements fault.Kinder.
func (e *OpenError) FaultKind() fault.Kind {
	return fault.KindCircuitOpen
}

// Snapshot is a point-in-time copy of breaker state.
type Snapshot struct {
	Dependency          string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	Config              Config
}

// outcome of a call as seen by the breaker
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeNeutral
)

// classifyOutcome counts only transient errors as dependency failures. A fatal
// or validation error still proves the dependency answered.
func classifyOutcome(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	switch fault.Classify(err) {
	case fault.KindTransient:
		return outcomeFailure
	case fault.KindCanceled, fault.KindCircuitOpen:
		return outcomeNeutral
	default:
		return outcomeSuccess
	}
}

// Breaker guards one dependency. All transitions happen under mu.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange func(dependency string, from, to State)

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probing    bool
	generation uint64
}

// New returns a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Option customises a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a hook called (outside the lock) on every transition.
func WithStateChange(fn func(dependency string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// Call runs fn if the breaker admits it and records the outcome. A panic in
// fn is recorded as a failure before it propagates.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.allow()
	if err != nil {
		return err
	}
	completed := false
	defer func() {
		if !completed {
			b.record(gen, outcomeFailure)
		}
	}()
	err = fn(ctx)
	completed = true
	b.record(gen, classifyOutcome(err))
	return err
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Dependency:          b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		Config:              b.cfg,
	}
}

func (b *Breaker) allow() (uint64, error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		gen := b.generation
		b.mu.Unlock()
		return gen, nil

	case Open:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			err := &OpenError{Dependency: b.name, OpenedAt: b.openedAt, RetryAfter: b.cfg.ResetTimeout - elapsed}
			b.mu.Unlock()
			return 0, err
		}
		b.transition(HalfOpen)
		b.probing = true
		gen := b.generation
		b.mu.Unlock()
		b.notify(from, HalfOpen)
		return gen, nil

	default: // HalfOpen
		if b.probing {
			err := &OpenError{Dependency: b.name, OpenedAt: b.openedAt}
			b.mu.Unlock()
			return 0, err
		}
		b.probing = true
		gen := b.generation
		b.mu.Unlock()
		return gen, nil
	}
}

func (b *Breaker) record(gen uint64, o outcome) {
	b.mu.Lock()
	// the call was admitted before the last transition; its outcome is stale
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	from := b.state
	switch b.state {
	case Closed:
		switch o {
		case outcomeFailure:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.trip()
			}
		case outcomeSuccess:
			b.failures = 0
		}

	case HalfOpen:
		switch o {
		case outcomeFailure:
			b.failures++
			b.trip()
		case outcomeSuccess:
			b.failures = 0
			b.probing = false
			b.transition(Closed)
		default:
			// probe never completed; let the next caller try
			b.probing = false
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// trip opens the breaker. Caller holds mu.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.probing = false
	b.transition(Open)
}

// transition changes state and invalidates outstanding calls. Caller holds mu.
func (b *Breaker) transition(to State) {
	b.state = to
	b.generation++
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
