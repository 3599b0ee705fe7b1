package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// SaveStreamConfig validates and persists a named stream configuration,
// creating it when new and replacing the mutable fields otherwise.
func (r *Registry) SaveStreamConfig(ctx context.Context, cfg *models.StreamConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: stream config name is required", ErrInvalidConfiguration)
	}
	if cfg.URLs == "" {
		return fmt.Errorf("%w: stream config urls are required", ErrInvalidConfiguration)
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = models.StreamAuthNone
	}
	if !cfg.AuthMode.Valid() {
		return fmt.Errorf("%w: unknown stream auth mode %q", ErrInvalidConfiguration, cfg.AuthMode)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}

	now := time.Now().UTC()

	existing, err := r.GetStreamConfigByName(ctx, cfg.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		if cfg.ID == uuid.Nil {
			cfg.ID = uuid.New()
		}
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
			return fmt.Errorf("failed to create stream config: %w", err)
		}
		return nil
	}

	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = now
	if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("failed to update stream config: %w", err)
	}
	return nil
}

// GetStreamConfigByName loads a stream configuration, returning nil when it
// does not exist.
func (r *Registry) GetStreamConfigByName(ctx context.Context, name string) (*models.StreamConfig, error) {
	var cfg models.StreamConfig
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load stream config: %w", err)
	}
	return &cfg, nil
}
