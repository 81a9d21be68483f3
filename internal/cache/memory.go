package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is an in-process Cache for single-instance deployments and tests.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryCache) Get(_ context.Context, code string) (*Entry, error) {
	v, ok := m.c.Get(Key(code))
	if !ok {
		return nil, ErrMiss
	}
	e := v.(Entry)
	return &e, nil
}

func (m *MemoryCache) Set(_ context.Context, code string, e *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(Key(code), *e, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, code string) error {
	m.c.Delete(Key(code))
	return nil
}

func (m *MemoryCache) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of cached entries, expired ones included until cleanup.
func (m *MemoryCache) Len() int {
	return m.c.ItemCount()
}
