package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

func newLink(code string, owner int64) *domain.Link {
	return &domain.Link{
		Code:        code,
		OriginalURL: "https://example.org/" + code,
		OwnerID:     owner,
		Tier:        domain.TierFree,
		IsActive:    true,
	}
}

func TestMemStorage_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()

	link := newLink("abc123", 1)
	require.NoError(t, s.CreateLink(ctx, link))
	assert.NotZero(t, link.ID)

	got, err := s.GetLink(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/abc123", got.OriginalURL)
	assert.False(t, got.CreatedAt.IsZero())

	err = s.CreateLink(ctx, newLink("abc123", 2))
	assert.ErrorIs(t, err, repository.ErrCodeExists)

	_, err = s.GetLink(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestMemStorage_DeletedCodesAreNotReused(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateLink(ctx, newLink("gone", 1)))
	wasActive, err := s.DeleteLink(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, wasActive)

	_, err = s.GetLink(ctx, "gone")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)

	exists, err := s.CodeExists(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.ErrorIs(t, s.CreateLink(ctx, newLink("gone", 2)), repository.ErrCodeExists)

	_, err = s.DeleteLink(ctx, "gone")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestMemStorage_IncrementActiveLinksRespectsCeiling(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.IncrementActiveLinks(ctx, 7, 1)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	_, err = s.EnsureAccount(ctx, 7, domain.TierFree)
	require.NoError(t, err)

	ok, err := s.IncrementActiveLinks(ctx, 7, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IncrementActiveLinks(ctx, 7, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IncrementActiveLinks(ctx, 7, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DecrementActiveLinks(ctx, 7))
	require.NoError(t, s.DecrementActiveLinks(ctx, 7))
	require.NoError(t, s.DecrementActiveLinks(ctx, 7))

	acc, err := s.GetAccount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.ActiveLinks)

	// unbounded
	for i := 0; i < 50; i++ {
		ok, err = s.IncrementActiveLinks(ctx, 7, domain.Unlimited)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestMemStorage_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.EnsureAccount(ctx, 1, domain.TierFree)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(tx repository.Storage) error {
		ok, err := tx.IncrementActiveLinks(ctx, 1, 10)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.CreateLink(ctx, newLink("rolled", 1)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.ActiveLinks)

	exists, err := s.CodeExists(ctx, "rolled")
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.Transaction(ctx, func(tx repository.Storage) error {
		if _, err := tx.IncrementActiveLinks(ctx, 1, 10); err != nil {
			return err
		}
		return tx.CreateLink(ctx, newLink("kept", 1))
	})
	require.NoError(t, err)

	acc, err = s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.ActiveLinks)
	_, err = s.GetLink(ctx, "kept")
	assert.NoError(t, err)
}

func TestMemStorage_ListLinks(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		l := newLink(fmt.Sprintf("code%d", i), 1)
		l.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			l.Tags = []domain.LinkTag{{Name: "work"}}
		}
		require.NoError(t, s.CreateLink(ctx, l))
	}
	require.NoError(t, s.CreateLink(ctx, newLink("other", 2)))

	links, total, err := s.ListLinks(ctx, 1, repository.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, links, 2)
	assert.Equal(t, "code4", links[0].Code)
	assert.Equal(t, "code3", links[1].Code)

	links, total, err = s.ListLinks(ctx, 1, repository.ListFilter{Tag: "work", Offset: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, links, 2)
	assert.Equal(t, "code2", links[0].Code)
	assert.Equal(t, []string{"work"}, links[0].TagNames())

	links, _, err = s.ListLinks(ctx, 1, repository.ListFilter{Offset: 10, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestMemStorage_ExpiryAndDeactivation(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := newLink("old", 1)
	expired.ExpiresAt = &past
	fresh := newLink("new", 1)
	fresh.ExpiresAt = &future
	require.NoError(t, s.CreateLink(ctx, expired))
	require.NoError(t, s.CreateLink(ctx, fresh))

	links, err := s.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "old", links[0].Code)

	flipped, err := s.DeactivateLink(ctx, "old", now)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = s.DeactivateLink(ctx, "old", now)
	require.NoError(t, err)
	assert.False(t, flipped)

	flipped, err = s.DeactivateLink(ctx, "new", now)
	require.NoError(t, err)
	assert.False(t, flipped)

	links, err = s.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestMemStorage_RecordClick(t *testing.T) {
	ctx := context.Background()
	s := New()
	link := newLink("clk", 1)
	require.NoError(t, s.CreateLink(ctx, link))

	de, us := "DE", "US"
	day := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clicks := []*domain.Click{
		{ID: "a", LinkID: link.ID, Code: "clk", Country: &de, DeviceType: domain.DeviceMobile, ClickedAt: day},
		{ID: "b", LinkID: link.ID, Code: "clk", Country: &de, DeviceType: domain.DeviceDesktop, ClickedAt: day.Add(time.Hour)},
		{ID: "c", LinkID: link.ID, Code: "clk", Country: &us, DeviceType: domain.DeviceMobile, ClickedAt: day.Add(24 * time.Hour)},
		{ID: "d", LinkID: link.ID, Code: "clk", DeviceType: domain.DeviceMobile, ClickedAt: day.Add(24 * time.Hour)},
	}
	for _, c := range clicks {
		require.NoError(t, s.RecordClick(ctx, c))
	}
	assert.ErrorIs(t, s.RecordClick(ctx, clicks[0]), repository.ErrDuplicateClick)

	got, err := s.GetLink(ctx, "clk")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.ClickCount)

	series, err := s.ClickTimeSeries(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.TimeBucket{{Date: "2025-05-01", Count: 2}, {Date: "2025-05-02", Count: 2}}, series)

	locations, err := s.ClicksByCountry(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.LocationCount{
		{Country: "DE", Count: 2},
		{Country: "US", Count: 1},
		{Country: "unknown", Count: 1},
	}, locations)

	devices, err := s.ClicksByDevice(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.DeviceCount{
		{DeviceType: domain.DeviceMobile, Count: 3},
		{DeviceType: domain.DeviceDesktop, Count: 1},
	}, devices)

	err = s.RecordClick(ctx, &domain.Click{ID: "z", LinkID: 999})
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}
