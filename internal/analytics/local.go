package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shortlink/internal/config"
)

const handleTimeout = 30 * time.Second

// LocalTransport calls the handler in-process with exponential backoff.
// Events still queued in memory are lost if the process dies.
type LocalTransport struct {
	handle        Handler
	retryAttempts int
	retryDelay    time.Duration
	log           *zap.Logger
}

func NewLocalTransport(cfg *config.Analytics, handle Handler, log *zap.Logger) *LocalTransport {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &LocalTransport{
		handle:        handle,
		retryAttempts: attempts,
		retryDelay:    cfg.RetryDelay,
		log:           log,
	}
}

func (t *LocalTransport) Deliver(ctx context.Context, ev ClickEvent) error {
	log := t.log.With(zap.String("code", ev.Code), zap.String("click_id", ev.ID))
	return retry(ctx, t.retryAttempts, t.retryDelay, log, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()
		return t.handle(attemptCtx, ev)
	})
}

func (t *LocalTransport) Close() error { return nil }
