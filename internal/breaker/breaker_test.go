package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/reel-forge/internal/fault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUnavailable = fault.Transient(errors.New("503 service unavailable"))

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errUnavailable
	}
}

func succeeding(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("openai", Config{FailureThreshold: 3, ResetTimeout: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		err := b.Call(ctx, failing(&calls))
		assert.ErrorIs(t, err, errUnavailable)
	}
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, clock.Now(), snap.OpenedAt)

	err := b.Call(ctx, failing(&calls))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, fault.KindCircuitOpen, fault.Classify(err))
	assert.Equal(t, int32(3), calls, "open breaker must not invoke fn")

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, time.Minute, openErr.RetryAfter)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New("tts", Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	_ = b.Call(ctx, failing(&calls))
	require.NoError(t, b.Call(ctx, succeeding(&calls)))
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	_ = b.Call(ctx, failing(&calls))
	_ = b.Call(ctx, failing(&calls))
	assert.Equal(t, Closed, b.Snapshot().State)
}

func TestBreaker_FatalErrorsDoNotCount(t *testing.T) {
	b := New("tts", Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), func(context.Context) error {
			return fault.Fatal(errors.New("401"))
		})
	}
	assert.Equal(t, Closed, b.Snapshot().State)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := New("images", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	require.Equal(t, Open, b.Snapshot().State)

	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Call(ctx, succeeding(&calls)), ErrOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Call(ctx, succeeding(&calls)))

	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, int32(2), calls)
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("video", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	firstOpened := b.Snapshot().OpenedAt

	clock.Advance(15 * time.Second)
	assert.ErrorIs(t, b.Call(ctx, failing(&calls)), errUnavailable)

	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.True(t, snap.OpenedAt.After(firstOpened), "openedAt must be reset")
	assert.Equal(t, clock.Now(), snap.OpenedAt)

	assert.ErrorIs(t, b.Call(ctx, succeeding(&calls)), ErrOpen)
	assert.Equal(t, int32(2), calls)
}

func TestBreaker_HalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	clock := newFakeClock()
	b := New("asr", Config{FailureThreshold: 1, ResetTimeout: time.Second}, WithClock(clock.Now))
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Call(ctx, func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	const others = 10
	var wg sync.WaitGroup
	var rejected int32
	for i := 0; i < others; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(b.Call(ctx, succeeding(&calls)), ErrOpen) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(others), rejected)
	assert.Equal(t, HalfOpen, b.Snapshot().State)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, Closed, b.Snapshot().State)
}

func TestBreaker_PanickingProbeReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("video", Config{FailureThreshold: 1, ResetTimeout: time.Second}, WithClock(clock.Now))
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	clock.Advance(2 * time.Second)

	assert.PanicsWithValue(t, "renderer crashed", func() {
		_ = b.Call(ctx, func(context.Context) error { panic("renderer crashed") })
	})
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.True(t, clock.Now().Equal(snap.OpenedAt), "openedAt is reset by the failed probe")

	var open *OpenError
	require.ErrorAs(t, b.Call(ctx, succeeding(&calls)), &open)
	assert.Equal(t, time.Second, open.RetryAfter)

	clock.Advance(time.Second)
	require.NoError(t, b.Call(ctx, succeeding(&calls)))
	assert.Equal(t, Closed, b.Snapshot().State)
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	b := New("tts", Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	boom := func(context.Context) error { panic("boom") }

	assert.Panics(t, func() { _ = b.Call(context.Background(), boom) })
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
	assert.Panics(t, func() { _ = b.Call(context.Background(), boom) })
	assert.Equal(t, Open, b.Snapshot().State)
}

func TestBreaker_CanceledProbeFreesSlot(t *testing.T) {
	clock := newFakeClock()
	b := New("asr", Config{FailureThreshold: 1, ResetTimeout: time.Second}, WithClock(clock.Now))
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	clock.Advance(2 * time.Second)

	err := b.Call(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, HalfOpen, b.Snapshot().State)

	require.NoError(t, b.Call(ctx, succeeding(&calls)))
	assert.Equal(t, Closed, b.Snapshot().State)
}

func TestBreaker_ConcurrentFailuresOpenForEveryCaller(t *testing.T) {
	// five runs each issue one failing call in the same window
	b := New("x", Config{FailureThreshold: 5, ResetTimeout: time.Minute})
	ctx := context.Background()

	var calls int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = b.Call(ctx, failing(&calls))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, Open, b.Snapshot().State)
	err := b.Call(ctx, succeeding(&calls))
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, int32(5), calls)
}

func TestBreaker_StaleOutcomesIgnored(t *testing.T) {
	b := New("x", Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	release := make(chan struct{})
	admitted := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Call(ctx, func(context.Context) error {
			close(admitted)
			<-release
			return nil
		})
	}()
	<-admitted

	var calls int32
	_ = b.Call(ctx, failing(&calls))
	require.Equal(t, Open, b.Snapshot().State)

	close(release)
	<-done
	assert.Equal(t, Open, b.Snapshot().State, "success from before the trip must not close the breaker")
}

func TestBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var transitions []string
	b := New("llm", Config{FailureThreshold: 1, ResetTimeout: time.Second}, WithClock(clock.Now),
		WithStateChange(func(dep string, from, to State) {
			mu.Lock()
			transitions = append(transitions, dep+":"+from.String()+"->"+to.String())
			mu.Unlock()
		}))
	ctx := context.Background()
	var calls int32

	_ = b.Call(ctx, failing(&calls))
	clock.Advance(time.Second)
	_ = b.Call(ctx, succeeding(&calls))

	assert.Equal(t, []string{
		"llm:closed->open",
		"llm:open->half_open",
		"llm:half_open->closed",
	}, transitions)
}

func TestRegistry_SharesBreakerByDependency(t *testing.T) {
	r := NewRegistry(DefaultConfig(), map[string]Config{
		"openai": {FailureThreshold: 2, ResetTimeout: time.Minute},
	})

	assert.Same(t, r.Get("openai"), r.Get("openai"))
	assert.NotSame(t, r.Get("openai"), r.Get("elevenlabs"))
	assert.Equal(t, 2, r.Get("openai").Snapshot().Config.FailureThreshold)
	assert.Equal(t, DefaultConfig(), r.Get("elevenlabs").Snapshot().Config)

	ctx := context.Background()
	var calls int32
	// "idea" and "script" stages both call openai
	_ = r.Call(ctx, "openai", failing(&calls))
	_ = r.Call(ctx, "openai", failing(&calls))
	assert.ErrorIs(t, r.Call(ctx, "openai", succeeding(&calls)), ErrOpen)
	assert.NoError(t, r.Call(ctx, "elevenlabs", succeeding(&calls)))

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "elevenlabs", snaps[0].Dependency)
	assert.Equal(t, Open, snaps[1].State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
	assert.Equal(t, "state(9)", State(9).String())
}
