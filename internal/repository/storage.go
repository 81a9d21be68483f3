package repository

import (
	"context"
	"errors"
	"time"

	"shortlink/internal/domain"
)

var (
	ErrLinkNotFound    = errors.New("link not found")
	ErrCodeExists      = errors.New("code already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateClick  = errors.New("click already recorded")
)

// ListFilter narrows and pages ListLinks.
type ListFilter struct {
	Tag    string
	Offset int
	Limit  int
}

// LinkUpdate carries the mutable fields of a link. Nil fields are left unchanged.
type LinkUpdate struct {
	OriginalURL *string
	ExpiresAt   *time.Time
	ClearExpiry bool
	Tags        *[]string
}

// LinkStore is the durable short code -> destination mapping.
type LinkStore interface {
	// CodeExists checks active, inactive and deleted links alike.
	CodeExists(ctx context.Context, code string) (bool, error)
	CreateLink(ctx context.Context, link *domain.Link) error
	GetLink(ctx context.Context, code string) (*domain.Link, error)
	ListLinks(ctx context.Context, ownerID int64, filter ListFilter) ([]domain.Link, int64, error)
	UpdateLink(ctx context.Context, code string, upd LinkUpdate) error
	UpdateMetadata(ctx context.Context, code string, md domain.Metadata) error
	// DeleteLink removes the link from every read path and reports whether it was active.
	DeleteLink(ctx context.Context, code string) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Link, error)
	// DeactivateLink flips an expired active link to inactive and reports whether this call flipped it.
	DeactivateLink(ctx context.Context, code string, now time.Time) (bool, error)
}

// ClickStore holds click events and their aggregates.
type ClickStore interface {
	// RecordClick appends the event and increments the link counter.
	// A click whose ID is already stored returns ErrDuplicateClick and changes nothing.
	RecordClick(ctx context.Context, click *domain.Click) error
	ClickTimeSeries(ctx context.Context, linkID int64) ([]domain.TimeBucket, error)
	ClicksByCountry(ctx context.Context, linkID int64) ([]domain.LocationCount, error)
	ClicksByDevice(ctx context.Context, linkID int64) ([]domain.DeviceCount, error)
}

// AccountStore holds the per-account active link counters.
type AccountStore interface {
	// EnsureAccount creates the account on first sight and keeps its tier in sync.
	EnsureAccount(ctx context.Context, id int64, tier domain.Tier) (*domain.Account, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	// IncrementActiveLinks adds one slot unless ceiling is reached. Negative ceiling means unbounded.
	IncrementActiveLinks(ctx context.Context, id int64, ceiling int64) (bool, error)
	// DecrementActiveLinks removes one slot, never going below zero.
	DecrementActiveLinks(ctx context.Context, id int64) error
}

type Storage interface {
	LinkStore
	ClickStore
	AccountStore

	// Transaction runs fn against a transactional view of the store.
	// Any error returned by fn rolls back every write made through tx.
	Transaction(ctx context.Context, fn func(tx Storage) error) error
	Ping(ctx context.Context) error
}
