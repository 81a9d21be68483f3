package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortlink/internal/allocator"
	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/internal/quota"
	"shortlink/internal/repository"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPage         = 1_000_000

	// generated codes can lose an insert race to a concurrent request
	maxInsertAttempts = 3
)

// Enricher schedules background metadata fetches.
type Enricher interface {
	Enrich(code, destination string) error
}

// Caller is the authenticated account behind a request.
type Caller struct {
	AccountID int64
	Tier      domain.Tier
}

type CreateRequest struct {
	URL       string
	Alias     string
	ExpiresAt *time.Time
	Tags      []string
}

// UpdateRequest carries the fields to change. Nil fields are left as they are.
type UpdateRequest struct {
	URL         *string
	ExpiresAt   *time.Time
	ClearExpiry bool
	Tags        *[]string
}

type ListRequest struct {
	Page     int
	PageSize int
	Tag      string
}

type Page struct {
	Links    []domain.Link
	Total    int64
	Page     int
	PageSize int
}

// LinkService implements link creation, management and the analytics query.
type LinkService struct {
	storage   repository.Storage
	cache     cache.Cache
	allocator *allocator.Allocator
	enforcer  *quota.Enforcer
	enricher  Enricher
	cfg       config.Links
	now       func() time.Time
	log       *zap.Logger
}

func NewLinkService(
	storage repository.Storage,
	c cache.Cache,
	alloc *allocator.Allocator,
	enforcer *quota.Enforcer,
	enricher Enricher,
	cfg *config.Links,
	log *zap.Logger,
) *LinkService {
	return &LinkService{
		storage:   storage,
		cache:     c,
		allocator: alloc,
		enforcer:  enforcer,
		enricher:  enricher,
		cfg:       *cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// Create reserves a quota slot, allocates a code and inserts the link in one
// transaction, then schedules metadata enrichment.
func (s *LinkService) Create(ctx context.Context, caller Caller, req CreateRequest) (*domain.Link, error) {
	now := s.now()

	destination, err := ValidateDestination(req.URL, s.cfg.AllowPrivate)
	if err != nil {
		return nil, err
	}

	expiresAt, err := s.creationExpiry(req.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	tags, err := NormalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	if req.Alias != "" {
		if err := s.allocator.CheckAlias(req.Alias, caller.Tier); err != nil {
			return nil, err
		}
	}

	if _, err := s.storage.EnsureAccount(ctx, caller.AccountID, caller.Tier); err != nil {
		s.log.Warn("failed to sync account, denying creation", zap.Int64("account_id", caller.AccountID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrQuotaUnavailable, err)
	}

	var link *domain.Link
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		link, err = s.insert(ctx, caller, req.Alias, destination, expiresAt, tags)
		if errors.Is(err, repository.ErrCodeExists) && req.Alias == "" {
			s.log.Debug("generated code lost insert race, retrying", zap.Int("attempt", attempt))
			continue
		}
		break
	}
	if errors.Is(err, repository.ErrCodeExists) {
		if req.Alias != "" {
			return nil, domain.ErrAliasCollision
		}
		return nil, domain.ErrAllocatorExhausted
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("link created",
		zap.String("code", link.Code),
		zap.Int64("account_id", caller.AccountID),
		zap.Bool("custom", link.IsCustom),
	)
	s.enrich(link.Code, link.OriginalURL)
	return link, nil
}

func (s *LinkService) insert(ctx context.Context, caller Caller, alias, destination string, expiresAt *time.Time, tags []string) (*domain.Link, error) {
	var link *domain.Link

	err := s.storage.Transaction(ctx, func(tx repository.Storage) error {
		auth, err := s.enforcer.Reserve(ctx, tx, caller.AccountID)
		if err != nil {
			return err
		}

		code, custom, err := s.allocator.Allocate(ctx, tx, alias, auth.Tier)
		if err != nil {
			return err
		}

		l := &domain.Link{
			Code:        code,
			OriginalURL: destination,
			OwnerID:     caller.AccountID,
			Tier:        auth.Tier,
			IsCustom:    custom,
			IsActive:    true,
			ExpiresAt:   expiresAt,
		}
		for _, t := range tags {
			l.Tags = append(l.Tags, domain.LinkTag{Name: t})
		}

		if err := tx.CreateLink(ctx, l); err != nil {
			return err
		}
		if err := auth.Consume(); err != nil {
			return err
		}
		link = l
		return nil
	})
	return link, err
}

func (s *LinkService) creationExpiry(requested *time.Time, now time.Time) (*time.Time, error) {
	if requested != nil {
		if !requested.After(now) {
			return nil, domain.ErrInvalidExpiry
		}
		exp := requested.UTC()
		return &exp, nil
	}
	if s.cfg.DefaultExpiry > 0 {
		exp := now.Add(s.cfg.DefaultExpiry)
		return &exp, nil
	}
	return nil, nil
}

// Get returns a link visible to the caller.
func (s *LinkService) Get(ctx context.Context, caller Caller, code string) (*domain.Link, error) {
	link, err := s.storage.GetLink(ctx, code)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	if !canManage(caller, link) {
		return nil, domain.ErrForbidden
	}
	return link, nil
}

// List pages through the caller's own links, newest first.
func (s *LinkService) List(ctx context.Context, caller Caller, req ListRequest) (*Page, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		return nil, fmt.Errorf("%w: page must not exceed %d", domain.ErrInvalidPage, maxPage)
	}
	size := req.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	filter := repository.ListFilter{Offset: (page - 1) * size, Limit: size}
	if req.Tag != "" {
		tags, err := NormalizeTags([]string{req.Tag})
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			filter.Tag = tags[0]
		}
	}

	links, total, err := s.storage.ListLinks(ctx, caller.AccountID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return &Page{Links: links, Total: total, Page: page, PageSize: size}, nil
}

// Update changes destination, expiry or tags. The cache entry is dropped on
// every change and a new destination is enriched again.
func (s *LinkService) Update(ctx context.Context, caller Caller, code string, req UpdateRequest) (*domain.Link, error) {
	link, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return nil, domain.ErrExpired
	}

	var upd repository.LinkUpdate
	destinationChanged := false

	if req.URL != nil {
		dest, err := ValidateDestination(*req.URL, s.cfg.AllowPrivate)
		if err != nil {
			return nil, err
		}
		if dest != link.OriginalURL {
			upd.OriginalURL = &dest
			destinationChanged = true
		}
	}

	switch {
	case req.ClearExpiry:
		upd.ClearExpiry = true
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(s.now()) {
			return nil, domain.ErrInvalidExpiry
		}
		exp := req.ExpiresAt.UTC()
		upd.ExpiresAt = &exp
	}

	if req.Tags != nil {
		tags, err := NormalizeTags(*req.Tags)
		if err != nil {
			return nil, err
		}
		upd.Tags = &tags
	}

	err = s.storage.UpdateLink(ctx, code, upd)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update link: %w", err)
	}

	s.invalidate(ctx, code)
	if destinationChanged {
		s.enrich(code, *upd.OriginalURL)
	}

	s.log.Info("link updated", zap.String("code", code), zap.Bool("destination_changed", destinationChanged))

	updated, err := s.storage.GetLink(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to reload link: %w", err)
	}
	return updated, nil
}

// Delete removes the link from every read path and frees its quota slot if
// it was still active.
func (s *LinkService) Delete(ctx context.Context, caller Caller, code string) error {
	link, err := s.Get(ctx, caller, code)
	if err != nil {
		return err
	}

	err = s.storage.Transaction(ctx, func(tx repository.Storage) error {
		wasActive, err := tx.DeleteLink(ctx, code)
		if err != nil {
			return err
		}
		if wasActive {
			return s.enforcer.Release(ctx, tx, link.OwnerID)
		}
		return nil
	})
	if errors.Is(err, repository.ErrLinkNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	s.invalidate(ctx, code)
	s.log.Info("link deleted", zap.String("code", code), zap.Int64("account_id", caller.AccountID))
	return nil
}

// Stats returns click totals for every tier and the breakdowns for tiers
// with advanced analytics.
func (s *LinkService) Stats(ctx context.Context, caller Caller, code string) (*domain.LinkStats, error) {
	link, err := s.Get(ctx, caller, code)
	if err != nil {
		return nil, err
	}

	stats := &domain.LinkStats{
		Code:        link.Code,
		TotalClicks: link.ClickCount,
		CreatedAt:   link.CreatedAt,
	}

	if !s.enforcer.Policy(caller.Tier).HasFeature(domain.FeatureAdvancedAnalytics) {
		return stats, nil
	}

	if stats.TimeSeries, err = s.storage.ClickTimeSeries(ctx, link.ID); err != nil {
		return nil, fmt.Errorf("failed to load click time series: %w", err)
	}
	if stats.Locations, err = s.storage.ClicksByCountry(ctx, link.ID); err != nil {
		return nil, fmt.Errorf("failed to load click locations: %w", err)
	}
	if stats.Devices, err = s.storage.ClicksByDevice(ctx, link.ID); err != nil {
		return nil, fmt.Errorf("failed to load click devices: %w", err)
	}
	return stats, nil
}

func (s *LinkService) invalidate(ctx context.Context, code string) {
	if err := s.cache.Delete(ctx, code); err != nil {
		s.log.Warn("failed to invalidate cached link", zap.String("code", code), zap.Error(err))
	}
}

func (s *LinkService) enrich(code, destination string) {
	if s.enricher == nil {
		return
	}
	if err := s.enricher.Enrich(code, destination); err != nil {
		s.log.Debug("metadata enrichment not scheduled", zap.String("code", code), zap.Error(err))
	}
}

func canManage(caller Caller, link *domain.Link) bool {
	return link.OwnerID == caller.AccountID || caller.Tier == domain.TierAdmin
}
