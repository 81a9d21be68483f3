package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shortlink/internal/domain"
)

// Models lists the persisted models in dependency order.
func Models() []interface{} {
	return []interface{}{
		&domain.Account{},
		&domain.Link{},
		&domain.LinkTag{}, // зависят от ссылок
		&domain.Click{},
	}
}

// AutoMigrate выполняет автоматические миграции для всех доменных моделей
func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	models := Models()
	log.Info("starting database auto-migration", zap.Int("total_models", len(models)))

	for i, model := range models {
		modelName := fmt.Sprintf("%T", model)
		log.Debug("migrating model",
			zap.String("model", modelName),
			zap.Int("step", i+1),
			zap.Int("total", len(models)))

		if err := db.AutoMigrate(model); err != nil {
			log.Error("failed to migrate model",
				zap.String("model", modelName),
				zap.Error(err))
			return fmt.Errorf("failed to migrate model %s: %w", modelName, err)
		}
	}

	log.Info("database auto-migration completed successfully", zap.Int("migrated_models", len(models)))
	return nil
}
