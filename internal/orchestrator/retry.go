package orchestrator

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/user/rungov/internal/types"
)

// RetryPolicy controls caller-driven resubmission of whole requests with
// exponential backoff. Each attempt recomputes feasibility and produces its
// own artifact; nothing stale is ever rewritten.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 3 attempts, 1s initial delay, 2x multiplier, 30s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return isRetryable(err)
}

// isRetryable reports whether a fresh attempt could succeed. Only
// persistence I/O failures qualify: blocks, validation, scorer and
// collaborator failures are outcomes, and integrity errors are bugs.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var integrity *types.StoreIntegrityError
	if errors.As(err, &integrity) {
		return false
	}
	var ioErr *types.IOError
	if !errors.As(err, &ioErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff. Returns nil on success or the last error if all
// attempts fail, the error is non-retryable, or ctx ends.
func (p *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(p.NextDelay(attempt)):
			}
		}
	}
	return lastErr
}

// RunWithRetry resubmits req through o under policy p.
func (o *Orchestrator) RunWithRetry(ctx context.Context, p *RetryPolicy, req Request) (*Outcome, error) {
	var (
		outcome *Outcome
		runErr  error
	)
	err := p.Execute(ctx, func() error {
		outcome, runErr = o.Run(ctx, req)
		return runErr
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}
