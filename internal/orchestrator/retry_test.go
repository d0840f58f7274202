package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/user/rungov/internal/types"
)

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	ioErr := &types.IOError{Op: "write artifact", Err: errors.New("no space left on device")}
	if !policy.ShouldRetry(ioErr, 1) {
		t.Error("expected IO error to be retryable")
	}

	if policy.ShouldRetry(ioErr, 4) {
		t.Error("should not retry after max attempts")
	}

	delay := policy.NextDelay(1)
	if delay != 1*time.Second {
		t.Errorf("expected 1s delay, got %v", delay)
	}

	delay = policy.NextDelay(2)
	if delay != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", delay)
	}

	delay = policy.NextDelay(3)
	if delay != 4*time.Second {
		t.Errorf("expected 4s delay, got %v", delay)
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	for _, err := range []error{
		&types.SafetyBlockedError{RiskLevel: types.RiskRed, Reason: "depth"},
		&types.ValidationError{Field: "mode", Reason: "is required"},
		&types.StoreIntegrityError{Reason: "run id collision", Err: types.ErrDuplicateID},
		&types.CollaboratorError{Err: errors.New("connection refused")},
		&types.FeasibilityAdapterError{Err: errors.New("timeout")},
		&types.IOError{Op: "wait for run slot", Err: context.Canceled},
		errors.New("connection reset"),
	} {
		if policy.ShouldRetry(err, 1) {
			t.Errorf("expected %T (%v) to be non-retryable", err, err)
		}
	}
}

func TestRetryPolicyNilError(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not be retryable")
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10.0,
		MaxDelay:     30 * time.Second,
	}

	delay := policy.NextDelay(5)
	if delay > policy.MaxDelay {
		t.Errorf("delay %v exceeds max delay %v", delay, policy.MaxDelay)
	}
}

func TestRetryPolicyExecute(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
	calls := 0

	err := policy.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &types.IOError{Op: "write artifact", Err: fmt.Errorf("attempt %d", calls)}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteStopsOnBlock(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
	calls := 0

	err := policy.Execute(context.Background(), func() error {
		calls++
		return &types.SafetyBlockedError{RiskLevel: types.RiskRed}
	})
	var blocked *types.SafetyBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected SafetyBlockedError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryPolicyExecuteContextDone(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := policy.Execute(ctx, func() error {
		calls++
		cancel()
		return &types.IOError{Op: "write artifact", Err: errors.New("disk full")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}
