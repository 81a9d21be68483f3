package quota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

var ErrAuthorizationConsumed = errors.New("quota authorization already consumed")

// Authorization is one reserved link slot. It is consumed by exactly one link insert.
type Authorization struct {
	AccountID int64
	Tier      domain.Tier
	consumed  atomic.Bool
}

// Consume marks the slot as used by an insert.
func (a *Authorization) Consume() error {
	if !a.consumed.CompareAndSwap(false, true) {
		return ErrAuthorizationConsumed
	}
	return nil
}

// Enforcer keeps active link counts under the tier ceilings. Counting lives
// in the store, so limits hold across instances.
type Enforcer struct {
	policies domain.Policies
	log      *zap.Logger
}

func NewEnforcer(policies domain.Policies, log *zap.Logger) *Enforcer {
	return &Enforcer{policies: policies, log: log}
}

// Policy returns the policy row for tier.
func (e *Enforcer) Policy(tier domain.Tier) domain.TierPolicy {
	return e.policies.For(tier)
}

// Reserve takes one slot for the account with a single conditional increment.
// Any doubt about the current count denies the reservation.
func (e *Enforcer) Reserve(ctx context.Context, store repository.AccountStore, accountID int64) (*Authorization, error) {
	acc, err := store.GetAccount(ctx, accountID)
	if err != nil {
		e.log.Warn("quota check failed, denying creation", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrQuotaUnavailable, err)
	}

	policy := e.policies.For(acc.Tier)
	ok, err := store.IncrementActiveLinks(ctx, accountID, policy.MaxActiveLinks)
	if err != nil {
		e.log.Warn("quota reservation failed, denying creation", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrQuotaUnavailable, err)
	}
	if !ok {
		e.log.Info("active link quota reached",
			zap.Int64("account_id", accountID),
			zap.String("tier", string(acc.Tier)),
			zap.Int64("limit", policy.MaxActiveLinks))
		return nil, domain.ErrQuotaExceeded
	}

	return &Authorization{AccountID: accountID, Tier: acc.Tier}, nil
}

// Release gives a slot back after deletion or expiry.
func (e *Enforcer) Release(ctx context.Context, store repository.AccountStore, accountID int64) error {
	if err := store.DecrementActiveLinks(ctx, accountID); err != nil {
		e.log.Error("failed to release link slot", zap.Int64("account_id", accountID), zap.Error(err))
		return fmt.Errorf("failed to release link slot: %w", err)
	}
	return nil
}
