package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/reel-forge/internal/fault"
)

// recordSleep captures requested delays without sleeping.
type recordSleep struct {
	delays []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.n), "retry %d", tt.n)
	}
}

func TestPolicy_DelayUncappedDoesNotOverflow(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	assert.Positive(t, p.Delay(200))
}

func TestPolicy_JitterBounds(t *testing.T) {
	p := Policy{JitterRatio: 0.25}
	d := 4 * time.Second
	lo := time.Duration(float64(d) * 0.75)
	hi := time.Duration(float64(d) * 1.25)

	for _, r := range []float64{0, 0.1, 0.5, 0.9, 0.999999} {
		got := p.Jitter(d, r)
		assert.GreaterOrEqual(t, got, lo, "r=%v", r)
		assert.LessOrEqual(t, got, hi, "r=%v", r)
	}
	assert.Equal(t, lo, p.Jitter(d, 0))
	assert.Equal(t, d, p.Jitter(d, 0.5))
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{MaxAttempts: 0, JitterRatio: 3, BaseDelay: -time.Second}.Normalize()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 1.0, p.JitterRatio)
	assert.Equal(t, time.Duration(0), p.BaseDelay)
}

func TestDo_TransientExhaustsExactlyMaxAttempts(t *testing.T) {
	rs := &recordSleep{}
	r := New(Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute},
		WithSleep(rs.sleep), WithRand(func() float64 { return 0.5 }))

	calls := 0
	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return fault.Transient(errors.New("503"))
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, attempts)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Exhausted)
	assert.Len(t, rerr.Attempts, 4)
	assert.Equal(t, fault.KindTransient, fault.Classify(err))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rs.delays)
	assert.Contains(t, rerr.History(), "#4 transient")
}

func TestDo_FatalShortCircuits(t *testing.T) {
	rs := &recordSleep{}
	r := New(Policy{MaxAttempts: 10, BaseDelay: time.Second}, WithSleep(rs.sleep))

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fault.Fatal(errors.New("401 unauthorized"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rs.delays)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.False(t, rerr.Exhausted)
	assert.Equal(t, fault.KindFatal, fault.Classify(err))
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	rs := &recordSleep{}
	r := New(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, WithSleep(rs.sleep))

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 3 {
			return fault.Transient(errors.New("rate limited"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, rs.delays, 2)
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int
	r := New(Policy{MaxAttempts: 3}, WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithOnRetry(func(a Attempt) { seen = append(seen, a.Number) }))

	_, err := r.Do(context.Background(), func(context.Context, int) error {
		return errors.New("flaky")
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Policy{MaxAttempts: 5, BaseDelay: time.Hour})

	calls := 0
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = r.Do(ctx, func(context.Context, int) error {
			calls++
			return fault.Transient(errors.New("timeout"))
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, fault.KindCanceled, fault.Classify(err))
}

func TestSleep_ZeroReturnsImmediately(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
}
