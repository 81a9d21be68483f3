package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/quota"
	"shortlink/internal/repository"
)

// Reaper deactivates links whose expiry has passed and gives their slots
// back to the owners' quota.
type Reaper struct {
	store     repository.Storage
	cache     cache.Cache
	enforcer  *quota.Enforcer
	schedule  string
	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

func New(store repository.Storage, c cache.Cache, enforcer *quota.Enforcer, cfg *config.Reaper, log *zap.Logger) *Reaper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Reaper{
		store:     store,
		cache:     c,
		enforcer:  enforcer,
		schedule:  schedule,
		batchSize: batch,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func (r *Reaper) Name() string     { return "expiry-reaper" }
func (r *Reaper) Schedule() string { return r.schedule }

func (r *Reaper) Run(ctx context.Context) error {
	_, err := r.Sweep(ctx)
	return err
}

// Sweep deactivates every expired active link and returns how many this call
// flipped. Links flipped by a concurrent sweep are skipped, so a second run
// over the same state changes nothing.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := r.store.ListExpired(ctx, now, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list expired links: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		flipped := 0
		for _, link := range batch {
			ok, err := r.expire(ctx, link.Code, link.OwnerID, now)
			if err != nil {
				r.log.Error("failed to expire link", zap.String("code", link.Code), zap.Error(err))
				continue
			}
			if ok {
				flipped++
			}
		}
		total += flipped

		if len(batch) < r.batchSize || flipped == 0 {
			break
		}
	}

	if total > 0 {
		r.log.Info("expired links deactivated", zap.Int("count", total))
	}
	return total, nil
}

func (r *Reaper) expire(ctx context.Context, code string, ownerID int64, now time.Time) (bool, error) {
	var flipped bool
	err := r.store.Transaction(ctx, func(tx repository.Storage) error {
		var err error
		flipped, err = tx.DeactivateLink(ctx, code, now)
		if err != nil || !flipped {
			return err
		}
		return r.enforcer.Release(ctx, tx, ownerID)
	})
	if err != nil {
		return false, err
	}

	if err := r.cache.Delete(ctx, code); err != nil {
		r.log.Warn("failed to evict expired link from cache", zap.String("code", code), zap.Error(err))
	}
	return flipped, nil
}
