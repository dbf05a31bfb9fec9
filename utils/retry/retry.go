// Package retry provides the poll-until primitive every wait in the harness is
// built on: evaluate a condition at a fixed interval until it holds, it fails
// permanently, or a deadline passes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/onflow/quorumnet/module"
)

// Condition is evaluated by Until on every poll. Returning nil ends the wait
// successfully. An error wrapped with Pending keeps the wait going and is
// retained as the diagnostic of the most recent unsuccessful poll. Any other
// error aborts the wait immediately.
type Condition func(ctx context.Context) error

type pendingError struct {
	err error
}

func (e pendingError) Error() string {
	return e.err.Error()
}

func (e pendingError) Unwrap() error {
	return e.err
}

// Pending marks err as a not-yet-satisfied condition rather than a failure.
func Pending(err error) error {
	if err == nil {
		return nil
	}
	return pendingError{err: err}
}

// Pendingf is Pending with fmt.Errorf formatting.
func Pendingf(format string, args ...interface{}) error {
	return pendingError{err: fmt.Errorf(format, args...)}
}

// IsPending returns whether err marks a not-yet-satisfied condition.
func IsPending(err error) bool {
	var pending pendingError
	return errors.As(err, &pending)
}

// TimeoutError is returned by Until when the condition did not hold within
// the timeout. It wraps the diagnostic of the last poll.
type TimeoutError struct {
	Name     string
	Timeout  time.Duration
	Attempts int
	Last     error
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete within %s after %d attempts, last saw: %v", e.Name, e.Timeout, e.Attempts, e.Last)
}

func (e TimeoutError) Unwrap() error {
	return e.Last
}

// IsTimeoutError returns whether err is a TimeoutError
func IsTimeoutError(err error) bool {
	var errTimeout TimeoutError
	return errors.As(err, &errTimeout)
}

type config struct {
	metrics module.PollMetrics
}

// Option configures a single Until call.
type Option func(*config)

// WithMetrics reports the finished wait to m.
func WithMetrics(m module.PollMetrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// Until evaluates cond every interval until it returns nil, returns a
// non-pending error, or timeout elapses. A non-positive timeout evaluates
// the condition exactly once. Cancellation of ctx ends the wait with the
// context's error.
//
// Expected errors during normal operations:
//   - TimeoutError if the condition did not hold in time
func Until(ctx context.Context, log zerolog.Logger, name string, timeout, interval time.Duration, cond Condition, opts ...Option) error {
	cfg := config{}
	for _, apply := range opts {
		apply(&cfg)
	}

	// NewConstant panics on a non-positive interval
	if interval <= 0 {
		return fmt.Errorf("%s: poll interval must be positive, got %s", name, interval)
	}
	if timeout <= 0 {
		return once(ctx, log, name, timeout, cond, cfg)
	}
	backoff := retry.NewConstant(interval)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	attempts := 0
	var last error

	err := retry.Do(waitCtx, backoff, func(waitCtx context.Context) error {
		attempts++
		err := cond(waitCtx)
		if err == nil {
			return nil
		}
		var pending pendingError
		if !errors.As(err, &pending) {
			return err
		}
		last = pending.err
		log.Trace().Str("wait", name).Int("attempt", attempts).Err(last).Msg("condition not met")
		return retry.RetryableError(last)
	})
	elapsed := time.Since(start)

	if err == nil {
		log.Debug().Str("wait", name).Int("attempts", attempts).Dur("elapsed", elapsed).Msg("condition met")
		if cfg.metrics != nil {
			cfg.metrics.PollCompleted(name, attempts, elapsed, true)
		}
		return nil
	}
	if cfg.metrics != nil {
		cfg.metrics.PollCompleted(name, attempts, elapsed, false)
	}

	// the caller gave up, not us
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}

	if errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil {
		timeoutErr := TimeoutError{Name: name, Timeout: timeout, Attempts: attempts, Last: last}
		log.Warn().Str("wait", name).Int("attempts", attempts).Dur("timeout", timeout).Err(timeoutErr.Last).Msg("condition not met before timeout")
		return timeoutErr
	}

	return fmt.Errorf("%s failed: %w", name, err)
}

// once evaluates cond a single time, reporting a pending result as a timeout.
func once(ctx context.Context, log zerolog.Logger, name string, timeout time.Duration, cond Condition, cfg config) error {
	start := time.Now()
	err := cond(ctx)
	if cfg.metrics != nil {
		cfg.metrics.PollCompleted(name, 1, time.Since(start), err == nil)
	}
	if err == nil {
		return nil
	}
	var pending pendingError
	if !errors.As(err, &pending) {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	log.Warn().Str("wait", name).Err(pending.err).Msg("condition not met, no time to retry")
	return TimeoutError{Name: name, Timeout: timeout, Attempts: 1, Last: pending.err}
}
