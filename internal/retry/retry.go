package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Policy bounds retry behavior for one pipeline step. Delay grows as
// base * 2^attempt, capped.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	StepTimeout time.Duration

	// OnRetry, when set, is invoked once per retry attempt (not for the
	// first attempt).
	OnRetry func(step string)
}

// transientError marks an error as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried: explicitly marked
// errors, network timeouts, deadline expiry, and an open circuit breaker
// (the dependency may recover before the attempts are exhausted).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return false
}

// Do runs fn up to p.MaxAttempts times, each attempt under its own
// StepTimeout. Only transient errors are retried; anything else is
// returned immediately. The attempt context is derived from ctx, so
// cancelling ctx stops the backoff sleep as well.
func Do(ctx context.Context, p Policy, step string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(step)
			}
			delay := p.BackoffBase << uint(attempt-1)
			if p.BackoffCap > 0 && delay > p.BackoffCap {
				delay = p.BackoffCap
			}
			log.Debug().Str("step", step).Int("attempt", attempt).Dur("delay", delay).Msg("backing off before retry")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.StepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.StepTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Str("step", step).Int("attempt", attempt+1).Int("max_attempts", p.MaxAttempts).Err(err).Msg("transient failure")
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", step, p.MaxAttempts, lastErr)
}
