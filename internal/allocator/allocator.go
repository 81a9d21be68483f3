package allocator

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/pkg/random"
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Aliases that would shadow HTTP routes.
var reserved = map[string]struct{}{
	"api":     {},
	"health":  {},
	"ready":   {},
	"metrics": {},
}

// CodeChecker reports whether a code was ever assigned.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Allocator hands out short codes: random ones, or custom aliases for tiers that allow them.
// It only checks uniqueness; the unique index on the store settles races at insert time.
type Allocator struct {
	cfg      config.Allocator
	policies domain.Policies
	generate func(length int) (string, error)
	log      *zap.Logger
}

func New(cfg *config.Allocator, policies domain.Policies, log *zap.Logger) *Allocator {
	c := *cfg
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.AliasMinLength <= 0 {
		c.AliasMinLength = 3
	}
	if c.AliasMaxLength < c.AliasMinLength {
		c.AliasMaxLength = 50
	}
	return &Allocator{
		cfg:      c,
		policies: policies,
		generate: random.NewRandomString,
		log:      log,
	}
}

// CheckAlias validates a requested alias without touching the store.
// The tier permission is checked before the alias shape.
func (a *Allocator) CheckAlias(alias string, tier domain.Tier) error {
	if !a.policies.For(tier).HasFeature(domain.FeatureCustomAliases) {
		return domain.ErrAliasNotPermitted
	}
	if n := len(alias); n < a.cfg.AliasMinLength || n > a.cfg.AliasMaxLength {
		return fmt.Errorf("%w: length must be between %d and %d", domain.ErrInvalidAlias, a.cfg.AliasMinLength, a.cfg.AliasMaxLength)
	}
	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("%w: only letters, digits, '-' and '_' are allowed", domain.ErrInvalidAlias)
	}
	if _, ok := reserved[alias]; ok {
		return fmt.Errorf("%w: %q is reserved", domain.ErrInvalidAlias, alias)
	}
	return nil
}

// Allocate returns an unused code and whether it is a custom alias.
// Alias matching is case-sensitive and includes inactive and deleted links.
func (a *Allocator) Allocate(ctx context.Context, checker CodeChecker, alias string, tier domain.Tier) (string, bool, error) {
	if alias != "" {
		if err := a.CheckAlias(alias, tier); err != nil {
			return "", false, err
		}
		exists, err := checker.CodeExists(ctx, alias)
		if err != nil {
			return "", false, fmt.Errorf("failed to check alias existence: %w", err)
		}
		if exists {
			return "", false, domain.ErrAliasCollision
		}
		return alias, true, nil
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		code, err := a.generate(a.cfg.CodeLength)
		if err != nil {
			return "", false, fmt.Errorf("failed to generate code: %w", err)
		}
		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return "", false, fmt.Errorf("failed to check code existence: %w", err)
		}
		if !exists {
			return code, false, nil
		}
		a.log.Debug("generated code collided", zap.String("code", code), zap.Int("attempt", attempt))
	}

	a.log.Error("short code space exhausted",
		zap.Int("attempts", a.cfg.MaxAttempts),
		zap.Int("code_length", a.cfg.CodeLength))
	return "", false, domain.ErrAllocatorExhausted
}
