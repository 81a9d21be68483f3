package cache

import (
	"context"
	"errors"
	"time"

	"shortlink/internal/domain"
)

var ErrMiss = errors.New("cache miss")

// Entry is the resolution projection of a link kept in the cache.
type Entry struct {
	Destination string     `json:"destination"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the cached expiry has passed at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// EntryFromLink projects the fields the resolver needs.
func EntryFromLink(l *domain.Link) *Entry {
	e := &Entry{
		Destination: l.OriginalURL,
		Active:      l.IsActive,
	}
	if l.ExpiresAt != nil {
		exp := l.ExpiresAt.UTC()
		e.ExpiresAt = &exp
	}
	return e
}

// Cache is a key-value store with per-entry TTL keyed by short code.
// Every writer and invalidator goes through Key, so they agree on the key.
type Cache interface {
	// Get returns ErrMiss when nothing is cached for code.
	Get(ctx context.Context, code string) (*Entry, error)
	// Set stores e for ttl. A zero ttl keeps the entry until it is deleted.
	Set(ctx context.Context, code string, e *Entry, ttl time.Duration) error
	Delete(ctx context.Context, code string) error
	Ping(ctx context.Context) error
}

// Key derives the cache key of a short code.
func Key(code string) string {
	return "link:" + code
}
