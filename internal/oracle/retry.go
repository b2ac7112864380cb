package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is an explicit {max attempts, delay schedule} policy,
// decoupled from the suspension mechanism. Delays are linear multiples of
// Step (Step, 2*Step, 3*Step, ...), cancellable through the context.
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

// DefaultNarrativeRetry is the narrative oracle's retry budget.
func DefaultNarrativeRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Step: 2 * time.Second}
}

// Delay returns the wait before retrying after the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Step
}

// Do runs fn up to MaxAttempts times, sleeping Delay(n) between attempts.
// Returns the last error once the budget is exhausted, or the context
// error if cancelled while waiting.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		logger.Warn("Oracle call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Error(lastErr))

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
