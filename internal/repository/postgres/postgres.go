package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shortlink/internal/domain"
	"shortlink/internal/repository"
)

// PostgresStorage реализует интерфейс Storage поверх GORM.
// Запросы переносимы, поэтому тот же код работает на SQLite в тестах.
type PostgresStorage struct {
	db  *gorm.DB
	log *zap.Logger
}

// New создает новый экземпляр storage
func New(db *gorm.DB, log *zap.Logger) *PostgresStorage {
	return &PostgresStorage{
		db:  db,
		log: log,
	}
}

var _ repository.Storage = (*PostgresStorage)(nil)

// Transaction runs fn inside a database transaction.
func (s *PostgresStorage) Transaction(ctx context.Context, fn func(tx repository.Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStorage{db: tx, log: s.log})
	})
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// --- Link Methods ---

// CodeExists проверяет код среди всех ссылок, включая удаленные
func (s *PostgresStorage) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Unscoped().Model(&domain.Link{}).Where("code = ?", code).Count(&count).Error
	if err != nil {
		s.log.Error("failed to check code existence", zap.String("code", code), zap.Error(err))
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return count > 0, nil
}

// CreateLink сохраняет новую ссылку вместе с тегами
func (s *PostgresStorage) CreateLink(ctx context.Context, link *domain.Link) error {
	err := s.db.WithContext(ctx).Create(link).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrCodeExists
	}
	if err != nil {
		s.log.Error("failed to save link", zap.String("code", link.Code), zap.Error(err))
		return fmt.Errorf("failed to save link: %w", err)
	}

	s.log.Debug("saved new link", zap.String("code", link.Code), zap.Int64("owner_id", link.OwnerID))
	return nil
}

// GetLink получает ссылку по коду, в том числе неактивную
func (s *PostgresStorage) GetLink(ctx context.Context, code string) (*domain.Link, error) {
	var link domain.Link

	err := s.db.WithContext(ctx).Preload("Tags").Where("code = ?", code).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrLinkNotFound
	}
	if err != nil {
		s.log.Error("failed to get link", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return &link, nil
}

// ListLinks возвращает страницу ссылок владельца, новые первыми
func (s *PostgresStorage) ListLinks(ctx context.Context, ownerID int64, filter repository.ListFilter) ([]domain.Link, int64, error) {
	q := s.db.WithContext(ctx).Model(&domain.Link{}).Where("owner_id = ?", ownerID)
	if filter.Tag != "" {
		tagged := s.db.Model(&domain.LinkTag{}).Select("link_id").Where("name = ?", filter.Tag)
		q = q.Where("id IN (?)", tagged)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		s.log.Error("failed to count links", zap.Int64("owner_id", ownerID), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count links: %w", err)
	}

	links := make([]domain.Link, 0)
	page := q.Preload("Tags").Order("created_at DESC, id DESC").Offset(filter.Offset)
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit)
	}
	if err := page.Find(&links).Error; err != nil {
		s.log.Error("failed to list links", zap.Int64("owner_id", ownerID), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list links: %w", err)
	}

	return links, total, nil
}

// UpdateLink применяет изменения назначения, срока действия и тегов
func (s *PostgresStorage) UpdateLink(ctx context.Context, code string, upd repository.LinkUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link domain.Link
		err := tx.Where("code = ?", code).First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return repository.ErrLinkNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get link: %w", err)
		}

		updates := map[string]interface{}{}
		if upd.OriginalURL != nil {
			updates["original_url"] = *upd.OriginalURL
		}
		if upd.ClearExpiry {
			updates["expires_at"] = nil
		} else if upd.ExpiresAt != nil {
			updates["expires_at"] = upd.ExpiresAt.UTC()
		}
		if len(updates) > 0 {
			if err := tx.Model(&link).Updates(updates).Error; err != nil {
				s.log.Error("failed to update link", zap.String("code", code), zap.Error(err))
				return fmt.Errorf("failed to update link: %w", err)
			}
		}

		if upd.Tags != nil {
			if err := tx.Where("link_id = ?", link.ID).Delete(&domain.LinkTag{}).Error; err != nil {
				return fmt.Errorf("failed to clear tags: %w", err)
			}
			for _, name := range *upd.Tags {
				if err := tx.Create(&domain.LinkTag{LinkID: link.ID, Name: name}).Error; err != nil {
					return fmt.Errorf("failed to save tag: %w", err)
				}
			}
		}
		return nil
	})
}

// UpdateMetadata записывает данные превью
func (s *PostgresStorage) UpdateMetadata(ctx context.Context, code string, md domain.Metadata) error {
	res := s.db.WithContext(ctx).Model(&domain.Link{}).Where("code = ?", code).Updates(map[string]interface{}{
		"title":       md.Title,
		"description": md.Description,
		"favicon":     md.Favicon,
	})
	if res.Error != nil {
		s.log.Error("failed to update metadata", zap.String("code", code), zap.Error(res.Error))
		return fmt.Errorf("failed to update metadata: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrLinkNotFound
	}
	return nil
}

// DeleteLink деактивирует и мягко удаляет ссылку. Строка остается,
// чтобы код не был выдан повторно.
func (s *PostgresStorage) DeleteLink(ctx context.Context, code string) (bool, error) {
	var wasActive bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Link{}).Where("code = ? AND is_active = ?", code, true).Update("is_active", false)
		if res.Error != nil {
			return fmt.Errorf("failed to deactivate link: %w", res.Error)
		}
		wasActive = res.RowsAffected == 1

		res = tx.Where("code = ?", code).Delete(&domain.Link{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete link: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrLinkNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrLinkNotFound) {
			s.log.Error("failed to delete link", zap.String("code", code), zap.Error(err))
		}
		return false, err
	}

	s.log.Info("deleted link", zap.String("code", code))
	return wasActive, nil
}

// ListExpired возвращает активные ссылки с истекшим сроком
func (s *PostgresStorage) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Link, error) {
	links := make([]domain.Link, 0)
	q := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now.UTC()).
		Order("expires_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&links).Error; err != nil {
		s.log.Error("failed to list expired links", zap.Error(err))
		return nil, fmt.Errorf("failed to list expired links: %w", err)
	}
	return links, nil
}

// DeactivateLink выключает ссылку, только если она еще активна и истекла
func (s *PostgresStorage) DeactivateLink(ctx context.Context, code string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Link{}).
		Where("code = ? AND is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", code, true, now.UTC()).
		Update("is_active", false)
	if res.Error != nil {
		s.log.Error("failed to deactivate link", zap.String("code", code), zap.Error(res.Error))
		return false, fmt.Errorf("failed to deactivate link: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// --- Click Methods ---

// RecordClick сохраняет клик и увеличивает счетчик в одной транзакции
func (s *PostgresStorage) RecordClick(ctx context.Context, click *domain.Click) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(click)
		if res.Error != nil {
			return fmt.Errorf("failed to create click: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrDuplicateClick
		}

		res = tx.Model(&domain.Link{}).Where("id = ?", click.LinkID).
			UpdateColumn("click_count", gorm.Expr("click_count + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to update click count: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrLinkNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicateClick) && !errors.Is(err, repository.ErrLinkNotFound) {
		s.log.Error("failed to record click", zap.String("click_id", click.ID), zap.String("code", click.Code), zap.Error(err))
	}
	return err
}

// ClickTimeSeries группирует клики по дням
func (s *PostgresStorage) ClickTimeSeries(ctx context.Context, linkID int64) ([]domain.TimeBucket, error) {
	var rows []struct {
		Day   string
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&domain.Click{}).
		Select("CAST(DATE(clicked_at) AS TEXT) AS day, COUNT(*) AS count").
		Where("link_id = ?", linkID).
		Group("DATE(clicked_at)").
		Order("day").
		Scan(&rows).Error
	if err != nil {
		s.log.Error("failed to get click time series", zap.Int64("link_id", linkID), zap.Error(err))
		return nil, fmt.Errorf("failed to get click time series: %w", err)
	}

	series := make([]domain.TimeBucket, 0, len(rows))
	for _, r := range rows {
		series = append(series, domain.TimeBucket{Date: r.Day, Count: r.Count})
	}
	return series, nil
}

// ClicksByCountry группирует клики по странам
func (s *PostgresStorage) ClicksByCountry(ctx context.Context, linkID int64) ([]domain.LocationCount, error) {
	locations := make([]domain.LocationCount, 0)
	err := s.db.WithContext(ctx).Model(&domain.Click{}).
		Select("COALESCE(country, 'unknown') AS country, COUNT(*) AS count").
		Where("link_id = ?", linkID).
		Group("COALESCE(country, 'unknown')").
		Order("count DESC, country ASC").
		Scan(&locations).Error
	if err != nil {
		s.log.Error("failed to get clicks by country", zap.Int64("link_id", linkID), zap.Error(err))
		return nil, fmt.Errorf("failed to get clicks by country: %w", err)
	}
	return locations, nil
}

// ClicksByDevice группирует клики по типам устройств
func (s *PostgresStorage) ClicksByDevice(ctx context.Context, linkID int64) ([]domain.DeviceCount, error) {
	devices := make([]domain.DeviceCount, 0)
	err := s.db.WithContext(ctx).Model(&domain.Click{}).
		Select("device_type, COUNT(*) AS count").
		Where("link_id = ?", linkID).
		Group("device_type").
		Order("count DESC, device_type ASC").
		Scan(&devices).Error
	if err != nil {
		s.log.Error("failed to get clicks by device", zap.Int64("link_id", linkID), zap.Error(err))
		return nil, fmt.Errorf("failed to get clicks by device: %w", err)
	}
	return devices, nil
}

// --- Account Methods ---

// EnsureAccount создает запись аккаунта при первом обращении и синхронизирует тариф
func (s *PostgresStorage) EnsureAccount(ctx context.Context, id int64, tier domain.Tier) (*domain.Account, error) {
	acc := domain.Account{ID: id, Tier: tier}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"tier": tier}),
	}).Create(&acc).Error
	if err != nil {
		s.log.Error("failed to upsert account", zap.Int64("account_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return s.GetAccount(ctx, id)
}

func (s *PostgresStorage) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.WithContext(ctx).First(&acc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrAccountNotFound
	}
	if err != nil {
		s.log.Error("failed to get account", zap.Int64("account_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

// IncrementActiveLinks занимает слот одним условным UPDATE. Конкурентные вызовы
// упорядочиваются блокировкой строки, и условие лимита проверяется для каждого.
func (s *PostgresStorage) IncrementActiveLinks(ctx context.Context, id int64, ceiling int64) (bool, error) {
	q := s.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id)
	if ceiling >= 0 {
		q = q.Where("active_links < ?", ceiling)
	}
	res := q.Update("active_links", gorm.Expr("active_links + 1"))
	if res.Error != nil {
		s.log.Error("failed to reserve link slot", zap.Int64("account_id", id), zap.Error(res.Error))
		return false, fmt.Errorf("failed to reserve link slot: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if _, err := s.GetAccount(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DecrementActiveLinks освобождает слот, не опускаясь ниже нуля
func (s *PostgresStorage) DecrementActiveLinks(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND active_links > 0", id).
		Update("active_links", gorm.Expr("active_links - 1"))
	if res.Error != nil {
		s.log.Error("failed to release link slot", zap.Int64("account_id", id), zap.Error(res.Error))
		return fmt.Errorf("failed to release link slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetAccount(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
