package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		StepTimeout: time.Second,
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.True(t, IsTransient(Transient(errors.New("flaky"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(gobreaker.ErrOpenState))
	assert.True(t, IsTransient(gobreaker.ErrTooManyRequests))

	// Wrapped transient errors stay transient.
	wrapped := Transient(errors.New("inner"))
	assert.True(t, IsTransient(wrapTwice(wrapped)))
}

func wrapTwice(err error) error {
	return &wrapper{&wrapper{err}}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	retries := 0
	p := fastPolicy()
	p.OnRetry = func(string) { retries++ }

	err := Do(context.Background(), p, "fetch", func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	cause := errors.New("invalid api key")

	err := Do(context.Background(), fastPolicy(), "decide", func(context.Context) error {
		calls++
		return cause
	})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls, "non-transient errors must not be retried")
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "fetch", func(context.Context) error {
		calls++
		return Transient(errors.New("still down"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "fetch: retries exhausted after 3 attempts")
	assert.Contains(t, err.Error(), "still down")
}

func TestDo_BackoffGrowsAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 4, BackoffBase: 10 * time.Millisecond, BackoffCap: 15 * time.Millisecond}

	start := time.Now()
	_ = Do(context.Background(), p, "fetch", func(context.Context) error {
		return Transient(errors.New("down"))
	})
	elapsed := time.Since(start)

	// Delays: 10ms, 15ms (capped from 20), 15ms (capped from 40).
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestDo_CancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BackoffBase: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, "fetch", func(context.Context) error {
			return Transient(errors.New("down"))
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDo_StepTimeoutAppliesPerAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 2, BackoffBase: time.Millisecond, StepTimeout: 20 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), p, "fetch", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "a timed-out attempt counts as transient and is retried")
	assert.Contains(t, err.Error(), "retries exhausted")
}
