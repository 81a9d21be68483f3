package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

// Resolution is the outcome of a successful lookup.
type Resolution struct {
	Code        string
	Destination string
}

// LinkGetter is the read side of the link store the resolver needs.
type LinkGetter interface {
	GetLink(ctx context.Context, code string) (*domain.Link, error)
}

// Resolver serves the redirect read path: cache first, store on miss.
// It never writes to the store.
type Resolver struct {
	cache          cache.Cache
	store          LinkGetter
	ttlCeiling     time.Duration
	cacheUnbounded bool
	now            func() time.Time
	log            *zap.Logger
}

func New(c cache.Cache, store LinkGetter, cfg *config.Cache, log *zap.Logger) *Resolver {
	ceiling := cfg.TTLCeiling
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	return &Resolver{
		cache:          c,
		store:          store,
		ttlCeiling:     ceiling,
		cacheUnbounded: cfg.CacheUnbounded,
		now:            time.Now,
		log:            log,
	}
}

// Resolve returns the destination of code, domain.ErrNotFound for codes that
// never existed or were deleted, and domain.ErrExpired for inactive or expired links.
func (r *Resolver) Resolve(ctx context.Context, code string) (*Resolution, error) {
	now := r.now()

	entry, err := r.cache.Get(ctx, code)
	switch {
	case err == nil:
		if entry.IsExpired(now) {
			r.evict(ctx, code)
			return nil, domain.ErrExpired
		}
		if entry.Active {
			return &Resolution{Code: code, Destination: entry.Destination}, nil
		}
		// inactive entries should have been evicted on deactivation
		r.log.Warn("inactive link found in cache, evicting", zap.String("code", code))
		r.evict(ctx, code)
	case errors.Is(err, cache.ErrMiss):
	default:
		r.log.Warn("cache lookup failed, falling back to store", zap.String("code", code), zap.Error(err))
	}

	link, err := r.store.GetLink(ctx, code)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load link: %w", err)
	}
	if !link.Resolvable(now) {
		return nil, domain.ErrExpired
	}

	if ttl, ok := r.TTLFor(link, now); ok {
		if err := r.cache.Set(ctx, code, cache.EntryFromLink(link), ttl); err != nil {
			r.log.Warn("failed to populate cache", zap.String("code", code), zap.Error(err))
		}
	}

	return &Resolution{Code: code, Destination: link.OriginalURL}, nil
}

// TTLFor returns the cache lifetime of a link at now: the ceiling, cut short
// by the link's own expiry. A zero TTL with ok means no expiry at all, which
// only happens for links without expiry when unbounded caching is enabled.
func (r *Resolver) TTLFor(link *domain.Link, now time.Time) (time.Duration, bool) {
	if link.ExpiresAt == nil {
		if r.cacheUnbounded {
			return 0, true
		}
		return r.ttlCeiling, true
	}

	remaining := link.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return min(remaining, r.ttlCeiling), true
}

func (r *Resolver) evict(ctx context.Context, code string) {
	if err := r.cache.Delete(ctx, code); err != nil {
		r.log.Warn("failed to evict cache entry", zap.String("code", code), zap.Error(err))
	}
}
