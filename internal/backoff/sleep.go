package backoff

import (
	"context"
	"time"
)

// Sleep waits for the given duration, respecting context cancellation.
// Returns nil if the wait completed, or ctx.Err() if the context was
// cancelled first.
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepAttempt computes the interval for the given attempt and waits it
// out. Returns nil if the wait completed, or ctx.Err() if the context
// was cancelled first.
func SleepAttempt(ctx context.Context, policy Policy, attempt int) error {
	return Sleep(ctx, Compute(policy, attempt))
}
