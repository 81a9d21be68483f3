package analytics

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shortlink/internal/domain"
	"shortlink/internal/repository"
	"shortlink/pkg/geo"
	"shortlink/pkg/sanitize"
	"shortlink/pkg/useragent"
)

// Handler processes one delivered event. A nil error acknowledges it.
type Handler func(ctx context.Context, ev ClickEvent) error

// ClickStore is the part of the store the recorder writes to.
type ClickStore interface {
	GetLink(ctx context.Context, code string) (*domain.Link, error)
	RecordClick(ctx context.Context, click *domain.Click) error
}

// DeviceClassifier turns a User-Agent into a device class.
type DeviceClassifier interface {
	Parse(userAgent string) useragent.DeviceInfo
}

// Recorder enriches events with device and location and stores them.
type Recorder struct {
	store   ClickStore
	devices DeviceClassifier
	geo     geo.Resolver
	log     *zap.Logger
}

func NewRecorder(store ClickStore, devices DeviceClassifier, geoResolver geo.Resolver, log *zap.Logger) *Recorder {
	if geoResolver == nil {
		geoResolver = geo.Nop{}
	}
	return &Recorder{store: store, devices: devices, geo: geoResolver, log: log}
}

// Handle records ev. Redelivered events and events for links deleted in
// the meantime are acknowledged without changes.
func (r *Recorder) Handle(ctx context.Context, ev ClickEvent) error {
	link, err := r.store.GetLink(ctx, ev.Code)
	if errors.Is(err, repository.ErrLinkNotFound) {
		r.log.Debug("dropping click for unknown link", zap.String("code", ev.Code))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load link: %w", err)
	}

	click := &domain.Click{
		ID:         ev.ID,
		LinkID:     link.ID,
		Code:       link.Code,
		IPAddress:  optional(ev.IPAddress, 45),
		UserAgent:  optional(ev.UserAgent, 0),
		Referer:    optional(ev.Referer, 500),
		DeviceType: domain.DeviceUnknown,
		ClickedAt:  ev.OccurredAt.UTC(),
	}

	if ev.UserAgent != "" && r.devices != nil {
		info := r.devices.Parse(ev.UserAgent)
		click.DeviceType = info.DeviceType
		click.Browser = optional(info.Browser, 50)
		click.OS = optional(info.OS, 50)
	}

	if loc, ok := r.geo.Lookup(ev.IPAddress); ok {
		click.Country = optional(loc.Country, 2)
		click.City = optional(loc.City, 100)
	}

	err = r.store.RecordClick(ctx, click)
	switch {
	case err == nil:
		r.log.Debug("click recorded",
			zap.String("code", ev.Code),
			zap.String("device_type", click.DeviceType),
		)
		return nil
	case errors.Is(err, repository.ErrDuplicateClick):
		r.log.Debug("click already recorded", zap.String("click_id", ev.ID))
		return nil
	case errors.Is(err, repository.ErrLinkNotFound):
		r.log.Debug("dropping click for deleted link", zap.String("code", ev.Code))
		return nil
	default:
		return fmt.Errorf("failed to record click: %w", err)
	}
}

// optional returns nil for empty s. Otherwise s is made valid UTF-8 and cut
// to at most limit bytes on a character boundary when limit > 0.
func optional(s string, limit int) *string {
	if s == "" {
		return nil
	}
	s = sanitize.Truncate(s, limit)
	return &s
}
