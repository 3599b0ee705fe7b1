package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// SetSecret creates or replaces a named secret for an endpoint.
func (r *Registry) SetSecret(ctx context.Context, endpointID uuid.UUID, name, value string) error {
	if name == "" {
		return fmt.Errorf("%w: secret name is required", ErrInvalidConfiguration)
	}
	if _, err := r.Get(ctx, endpointID); err != nil {
		return err
	}

	secret := models.Secret{
		EndpointID: endpointID,
		Name:       name,
		Value:      value,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&secret).Error
	if err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}
	return nil
}

// GetSecret returns the value of a named secret, or "" with found=false when
// the endpoint has no secret by that name.
func (r *Registry) GetSecret(ctx context.Context, endpointID uuid.UUID, name string) (string, bool, error) {
	var secret models.Secret
	err := r.db.WithContext(ctx).
		Where("endpoint_id = ? AND name = ?", endpointID, name).
		First(&secret).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load secret: %w", err)
	}
	return secret.Value, true, nil
}

// DeleteSecret removes a single named secret. Returns false when no such
// secret exists.
func (r *Registry) DeleteSecret(ctx context.Context, endpointID uuid.UUID, name string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("endpoint_id = ? AND name = ?", endpointID, name).
		Delete(&models.Secret{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete secret: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
