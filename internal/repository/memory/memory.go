package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

// MemStorage keeps everything in process memory. Used for local runs and tests.
type MemStorage struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	links     map[string]*domain.Link // by code, deleted links included
	deleted   map[string]bool
	linksByID map[int64]string
	linkSeq   int64
	tagSeq    int64

	accounts map[int64]*domain.Account

	clicks       map[string]*domain.Click
	clicksByLink map[int64][]*domain.Click
}

func New() *MemStorage {
	return &MemStorage{
		links:        make(map[string]*domain.Link),
		deleted:      make(map[string]bool),
		linksByID:    make(map[int64]string),
		accounts:     make(map[int64]*domain.Account),
		clicks:       make(map[string]*domain.Click),
		clicksByLink: make(map[int64][]*domain.Click),
	}
}

var _ repository.Storage = (*MemStorage)(nil)

func (s *MemStorage) Ping(_ context.Context) error {
	return nil
}

// Transaction serializes transactional callers and undoes their writes on error.
func (s *MemStorage) Transaction(ctx context.Context, fn func(tx repository.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{MemStorage: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// --- Link Methods ---

func (s *MemStorage) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.links[code]
	return ok, nil
}

func (s *MemStorage) CreateLink(_ context.Context, link *domain.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[link.Code]; exists {
		return repository.ErrCodeExists
	}

	s.linkSeq++
	link.ID = s.linkSeq
	now := time.Now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	for i := range link.Tags {
		s.tagSeq++
		link.Tags[i].ID = s.tagSeq
		link.Tags[i].LinkID = link.ID
	}

	s.links[link.Code] = cloneLink(link)
	s.linksByID[link.ID] = link.Code
	return nil
}

func (s *MemStorage) GetLink(_ context.Context, code string) (*domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.live(code)
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	return cloneLink(link), nil
}

func (s *MemStorage) ListLinks(_ context.Context, ownerID int64, filter repository.ListFilter) ([]domain.Link, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Link
	for code, link := range s.links {
		if s.deleted[code] || link.OwnerID != ownerID {
			continue
		}
		if filter.Tag != "" && !hasTag(link, filter.Tag) {
			continue
		}
		matched = append(matched, link)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Offset >= len(matched) {
		return []domain.Link{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]domain.Link, 0, len(matched))
	for _, link := range matched {
		out = append(out, *cloneLink(link))
	}
	return out, total, nil
}

func (s *MemStorage) UpdateLink(_ context.Context, code string, upd repository.LinkUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.live(code)
	if !ok {
		return repository.ErrLinkNotFound
	}
	if upd.OriginalURL != nil {
		link.OriginalURL = *upd.OriginalURL
	}
	if upd.ClearExpiry {
		link.ExpiresAt = nil
	} else if upd.ExpiresAt != nil {
		exp := *upd.ExpiresAt
		link.ExpiresAt = &exp
	}
	if upd.Tags != nil {
		link.Tags = link.Tags[:0:0]
		for _, name := range *upd.Tags {
			s.tagSeq++
			link.Tags = append(link.Tags, domain.LinkTag{ID: s.tagSeq, LinkID: link.ID, Name: name})
		}
	}
	link.UpdatedAt = time.Now()
	return nil
}

func (s *MemStorage) UpdateMetadata(_ context.Context, code string, md domain.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.live(code)
	if !ok {
		return repository.ErrLinkNotFound
	}
	link.Title = md.Title
	link.Description = md.Description
	link.Favicon = md.Favicon
	link.UpdatedAt = time.Now()
	return nil
}

func (s *MemStorage) DeleteLink(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.live(code)
	if !ok {
		return false, repository.ErrLinkNotFound
	}
	wasActive := link.IsActive
	link.IsActive = false
	s.deleted[code] = true
	return wasActive, nil
}

func (s *MemStorage) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*domain.Link
	for code, link := range s.links {
		if s.deleted[code] || !link.IsActive || !link.IsExpired(now) {
			continue
		}
		expired = append(expired, link)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(*expired[j].ExpiresAt)
	})
	if limit > 0 && limit < len(expired) {
		expired = expired[:limit]
	}

	out := make([]domain.Link, 0, len(expired))
	for _, link := range expired {
		out = append(out, *cloneLink(link))
	}
	return out, nil
}

func (s *MemStorage) DeactivateLink(_ context.Context, code string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.live(code)
	if !ok || !link.IsActive || !link.IsExpired(now) {
		return false, nil
	}
	link.IsActive = false
	link.UpdatedAt = time.Now()
	return true, nil
}

// --- Click Methods ---

func (s *MemStorage) RecordClick(_ context.Context, click *domain.Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.clicks[click.ID]; dup {
		return repository.ErrDuplicateClick
	}
	code, ok := s.linksByID[click.LinkID]
	if !ok || s.deleted[code] {
		return repository.ErrLinkNotFound
	}

	stored := *click
	s.clicks[click.ID] = &stored
	s.clicksByLink[click.LinkID] = append(s.clicksByLink[click.LinkID], &stored)
	s.links[code].ClickCount++
	return nil
}

func (s *MemStorage) ClickTimeSeries(_ context.Context, linkID int64) ([]domain.TimeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range s.clicksByLink[linkID] {
		counts[c.ClickedAt.UTC().Format("2006-01-02")]++
	}

	series := make([]domain.TimeBucket, 0, len(counts))
	for date, n := range counts {
		series = append(series, domain.TimeBucket{Date: date, Count: n})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series, nil
}

func (s *MemStorage) ClicksByCountry(_ context.Context, linkID int64) ([]domain.LocationCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range s.clicksByLink[linkID] {
		country := "unknown"
		if c.Country != nil && *c.Country != "" {
			country = *c.Country
		}
		counts[country]++
	}

	out := make([]domain.LocationCount, 0, len(counts))
	for country, n := range counts {
		out = append(out, domain.LocationCount{Country: country, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Country < out[j].Country
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

func (s *MemStorage) ClicksByDevice(_ context.Context, linkID int64) ([]domain.DeviceCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range s.clicksByLink[linkID] {
		counts[c.DeviceType]++
	}

	out := make([]domain.DeviceCount, 0, len(counts))
	for device, n := range counts {
		out = append(out, domain.DeviceCount{DeviceType: device, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].DeviceType < out[j].DeviceType
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

// --- Account Methods ---

func (s *MemStorage) EnsureAccount(_ context.Context, id int64, tier domain.Tier) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	acc, ok := s.accounts[id]
	if !ok {
		acc = &domain.Account{ID: id, Tier: tier, CreatedAt: now, UpdatedAt: now}
		s.accounts[id] = acc
	} else if acc.Tier != tier {
		acc.Tier = tier
		acc.UpdatedAt = now
	}
	cp := *acc
	return &cp, nil
}

func (s *MemStorage) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *MemStorage) IncrementActiveLinks(_ context.Context, id int64, ceiling int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	if ceiling >= 0 && acc.ActiveLinks >= ceiling {
		return false, nil
	}
	acc.ActiveLinks++
	return true, nil
}

func (s *MemStorage) DecrementActiveLinks(_ context.Context, id int64) error {
	_, err := s.decrement(id)
	return err
}

func (s *MemStorage) decrement(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	if acc.ActiveLinks == 0 {
		return false, nil
	}
	acc.ActiveLinks--
	return true, nil
}

// live returns a link that has not been deleted. Caller holds s.mu.
func (s *MemStorage) live(code string) (*domain.Link, bool) {
	link, ok := s.links[code]
	if !ok || s.deleted[code] {
		return nil, false
	}
	return link, true
}

func hasTag(link *domain.Link, name string) bool {
	for _, t := range link.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

func cloneLink(l *domain.Link) *domain.Link {
	cp := *l
	if l.ExpiresAt != nil {
		exp := *l.ExpiresAt
		cp.ExpiresAt = &exp
	}
	if l.Tags != nil {
		cp.Tags = append([]domain.LinkTag(nil), l.Tags...)
	}
	return &cp
}
