package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/apingest/internal/common"
	"github.com/loykin/apingest/internal/constants"
	goretry "github.com/sethvargo/go-retry"
)

// Policy decides how often and how patiently a request is retried.
// Condition is a predicate expression evaluated by the caller against the
// context of an unsuccessful response; transport failures are always eligible.
type Policy struct {
	Condition             string
	MaxRetries            int
	InitialIntervalMillis int
	MaxIntervalMillis     int
}

// DefaultPolicy returns the policy used when none is configured:
// always eligible, 7 retries, 1s doubling up to 60s.
func DefaultPolicy() Policy {
	return Policy{
		Condition:             constants.DefaultRetryCondition,
		MaxRetries:            constants.DefaultRetryMaxRetries,
		InitialIntervalMillis: constants.DefaultRetryInitialIntervalMillis,
		MaxIntervalMillis:     constants.DefaultRetryMaxIntervalMillis,
	}
}

// Validate checks the numeric bounds of the policy.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialIntervalMillis < 0 {
		return fmt.Errorf("initial_interval_millis must be >= 0, got %d", p.InitialIntervalMillis)
	}
	if p.MaxIntervalMillis < 0 {
		return fmt.Errorf("max_interval_millis must be >= 0, got %d", p.MaxIntervalMillis)
	}
	return nil
}

// NewBackoff returns the delay sequence for p: InitialIntervalMillis doubling on
// each retry, capped at MaxIntervalMillis, stopping after MaxRetries delays.
func NewBackoff(p Policy) goretry.Backoff {
	initial := time.Duration(p.InitialIntervalMillis) * time.Millisecond
	ceiling := time.Duration(p.MaxIntervalMillis) * time.Millisecond

	var b goretry.Backoff
	if initial <= 0 {
		b = goretry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	} else {
		b = goretry.NewExponential(initial)
	}
	b = goretry.WithCappedDuration(ceiling, b)
	return goretry.WithMaxRetries(uint64(max(p.MaxRetries, 0)), b)
}

type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// Retryable marks err as eligible for another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err}
}

// ExhaustedError is returned when every allowed attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Operation is one attempt. attempt starts at 0 for the first try.
type Operation func(ctx context.Context, attempt int) error

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy's retries are used up. Cancellation is honored before each attempt
// and while sleeping between attempts.
func Do(ctx context.Context, p Policy, op Operation) error {
	logger := common.GetLogger().WithComponent("retry")
	backoff := NewBackoff(p)

	attempt := 0
	exhausted := false
	var lastRetryable error
	err := goretry.Do(ctx, goretry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := backoff.Next()
		exhausted = stop
		if !stop {
			logger.Warn("attempt failed, retrying",
				"error", lastRetryable,
				"attempt", attempt,
				"max_retries", p.MaxRetries,
				"retry_delay", next)
		}
		return next, stop
	}), func(ctx context.Context) error {
		current := attempt
		attempt++
		err := op(ctx, current)
		if err == nil {
			if current > 0 {
				logger.Info("attempt succeeded after retry", "attempt", current, "total_attempts", current+1)
			}
			return nil
		}
		var r *retryable
		if errors.As(err, &r) {
			lastRetryable = r.err
			return goretry.RetryableError(r.err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if exhausted {
		logger.Error("attempts exhausted", "error", err, "attempts", attempt)
		return &ExhaustedError{Attempts: attempt, Last: err}
	}
	return err
}
