package reaper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/internal/quota"
	"shortlink/internal/repository/memory"
)

type fixture struct {
	store  *memory.MemStorage
	cache  *cache.MemoryCache
	reaper *Reaper
	now    time.Time
}

func setup(t *testing.T, batchSize int) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		cache: cache.NewMemoryCache(time.Minute),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	enforcer := quota.NewEnforcer(domain.DefaultPolicies(), zap.NewNop())
	f.reaper = New(f.store, f.cache, enforcer, &config.Reaper{BatchSize: batchSize}, zap.NewNop())
	f.reaper.now = func() time.Time { return f.now }
	return f
}

// addReserved creates a link the way the service does: slot first, then the row.
func (f *fixture) addReserved(t *testing.T, code string, owner int64, expiresAt *time.Time) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.EnsureAccount(ctx, owner, domain.TierFree)
	require.NoError(t, err)
	ok, err := f.store.IncrementActiveLinks(ctx, owner, domain.Unlimited)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.store.CreateLink(ctx, &domain.Link{
		Code: code, OriginalURL: "https://example.org/" + code, OwnerID: owner, IsActive: true, ExpiresAt: expiresAt,
	}))
	require.NoError(t, f.cache.Set(ctx, code, &cache.Entry{Destination: "https://example.org/" + code, Active: true}, time.Hour))
}

func activeLinks(t *testing.T, f *fixture, owner int64) int64 {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), owner)
	require.NoError(t, err)
	return acc.ActiveLinks
}

func TestSweep_DeactivatesExpiredAndReleasesQuota(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)
	past := f.now.Add(-time.Minute)
	future := f.now.Add(time.Hour)

	f.addReserved(t, "old", 1, &past)
	f.addReserved(t, "fresh", 1, &future)
	f.addReserved(t, "forever", 1, nil)
	require.Equal(t, int64(3), activeLinks(t, f, 1))

	n, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(2), activeLinks(t, f, 1))

	l, err := f.store.GetLink(ctx, "old")
	require.NoError(t, err)
	assert.False(t, l.IsActive)

	_, err = f.cache.Get(ctx, "old")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = f.cache.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweep_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)
	past := f.now.Add(-time.Minute)
	f.addReserved(t, "old", 1, &past)

	n, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), activeLinks(t, f, 1))
}

func TestSweep_PagesThroughBatches(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 3)
	past := f.now.Add(-time.Minute)

	for i := 0; i < 10; i++ {
		f.addReserved(t, fmt.Sprintf("old%d", i), int64(i%2+1), &past)
	}

	n, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, int64(0), activeLinks(t, f, 1))
	assert.Equal(t, int64(0), activeLinks(t, f, 2))

	left, err := f.store.ListExpired(ctx, f.now, 100)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSweep_DeletedLinkIsNotReleasedTwice(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)
	past := f.now.Add(-time.Minute)
	f.addReserved(t, "old", 1, &past)
	f.addReserved(t, "other", 1, nil)

	// an explicit delete got there first and already released the slot
	wasActive, err := f.store.DeleteLink(ctx, "old")
	require.NoError(t, err)
	require.True(t, wasActive)
	require.NoError(t, f.store.DecrementActiveLinks(ctx, 1))

	n, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), activeLinks(t, f, 1))
}

func TestSweep_StopsOnCancelledContext(t *testing.T) {
	f := setup(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.reaper.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
