package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// Migrate creates or updates the delivery subsystem schema.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	err := db.AutoMigrate(
		&models.StreamConfig{},
		&models.Endpoint{},
		&models.Secret{},
		&models.DeliveryAttempt{},
		&models.PublishRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Info("Database migrations applied successfully")
	}
	return nil
}
