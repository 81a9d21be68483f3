package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retry runs op up to attempts times on an exponential schedule starting at
// initial. It returns the last error of op, or the context error when ctx is
// done while waiting.
func retry(ctx context.Context, attempts int, initial time.Duration, log *zap.Logger, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	notify := func(err error, next time.Duration) {
		log.Warn("click delivery attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(func() error {
		attempt++
		return op()
	}, policy, notify)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("delivery cancelled: %w", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("failed after %d attempts: %w", attempt, err)
	}
	if attempt > 1 {
		log.Info("click delivery succeeded after retry", zap.Int("attempt", attempt))
	}
	return nil
}
