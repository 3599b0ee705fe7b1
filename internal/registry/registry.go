package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// ErrInvalidConfiguration is returned when endpoint or stream configuration
// fails validation. Nothing is persisted in that case.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrEndpointNotFound is returned when the referenced endpoint does not exist.
var ErrEndpointNotFound = errors.New("endpoint not found")

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Registry owns endpoint, secret and stream-config records.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// RegisterInput holds the fields accepted when registering a new endpoint.
// TimeoutMs and MaxRetryCount fall back to defaults when nil.
type RegisterInput struct {
	Name           string
	URL            string
	Method         string
	Headers        map[string]string
	Description    string
	TimeoutMs      *int
	MaxRetryCount  *int
	TransportMode  models.TransportMode
	StreamSubject  string
	StreamConfigID *uuid.UUID
}

// Register validates the input and creates a new endpoint.
func (r *Registry) Register(ctx context.Context, input RegisterInput) (*models.Endpoint, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfiguration)
	}

	if err := validateURL(input.URL); err != nil {
		return nil, err
	}

	method := strings.ToUpper(input.Method)
	if method == "" {
		method = "POST"
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: unsupported HTTP method %q", ErrInvalidConfiguration, input.Method)
	}

	mode := input.TransportMode
	if mode == "" {
		mode = models.TransportQueue
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown transport mode %q", ErrInvalidConfiguration, input.TransportMode)
	}
	if mode.UsesStream() && input.StreamSubject == "" {
		return nil, fmt.Errorf("%w: stream subject is required for transport mode %q", ErrInvalidConfiguration, mode)
	}

	timeoutMs := 30000
	if input.TimeoutMs != nil {
		if *input.TimeoutMs <= 0 {
			return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfiguration)
		}
		timeoutMs = *input.TimeoutMs
	}

	maxRetries := 3
	if input.MaxRetryCount != nil {
		if *input.MaxRetryCount < 0 {
			return nil, fmt.Errorf("%w: max retry count must not be negative", ErrInvalidConfiguration)
		}
		maxRetries = *input.MaxRetryCount
	}

	now := time.Now().UTC()
	endpoint := &models.Endpoint{
		ID:             uuid.New(),
		Name:           input.Name,
		URL:            input.URL,
		Method:         method,
		Headers:        input.Headers,
		Description:    input.Description,
		TimeoutMs:      timeoutMs,
		MaxRetryCount:  maxRetries,
		Enabled:        true,
		TransportMode:  mode,
		StreamSubject:  input.StreamSubject,
		StreamConfigID: input.StreamConfigID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.db.WithContext(ctx).Create(endpoint).Error; err != nil {
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}

	r.logger.Info("Endpoint registered",
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.String("name", endpoint.Name),
		zap.String("transport_mode", string(endpoint.TransportMode)),
	)

	return endpoint, nil
}

// UpdateInput holds partial endpoint updates. Only non-nil fields are applied.
type UpdateInput struct {
	URL           *string
	Method        *string
	Headers       map[string]string
	Description   *string
	TimeoutMs     *int
	MaxRetryCount *int
	Enabled       *bool
	TransportMode *models.TransportMode
	StreamSubject *string
}

// Update applies the provided fields, leaving others untouched. Disabling an
// endpoint does not affect attempts already in-flight. Returns false when the
// endpoint does not exist.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (bool, error) {
	endpoint, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return false, nil
		}
		return false, err
	}

	updates := map[string]interface{}{}

	if input.URL != nil {
		if err := validateURL(*input.URL); err != nil {
			return false, err
		}
		updates["url"] = *input.URL
	}
	if input.Method != nil {
		method := strings.ToUpper(*input.Method)
		if !allowedMethods[method] {
			return false, fmt.Errorf("%w: unsupported HTTP method %q", ErrInvalidConfiguration, *input.Method)
		}
		updates["method"] = method
	}
	if input.Headers != nil {
		endpoint.Headers = input.Headers
		updates["headers"] = endpoint.Headers
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.TimeoutMs != nil {
		if *input.TimeoutMs <= 0 {
			return false, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfiguration)
		}
		updates["timeout_ms"] = *input.TimeoutMs
	}
	if input.MaxRetryCount != nil {
		if *input.MaxRetryCount < 0 {
			return false, fmt.Errorf("%w: max retry count must not be negative", ErrInvalidConfiguration)
		}
		updates["max_retry_count"] = *input.MaxRetryCount
	}
	if input.Enabled != nil {
		updates["enabled"] = *input.Enabled
	}

	// Transport mode and subject are validated together against the final
	// state so an update cannot leave a stream-mode endpoint without subject.
	mode := endpoint.TransportMode
	if input.TransportMode != nil {
		mode = *input.TransportMode
		if !mode.Valid() {
			return false, fmt.Errorf("%w: unknown transport mode %q", ErrInvalidConfiguration, mode)
		}
		updates["transport_mode"] = mode
	}
	subject := endpoint.StreamSubject
	if input.StreamSubject != nil {
		subject = *input.StreamSubject
		updates["stream_subject"] = subject
	}
	if mode.UsesStream() && subject == "" {
		return false, fmt.Errorf("%w: stream subject is required for transport mode %q", ErrInvalidConfiguration, mode)
	}

	if len(updates) == 0 {
		return true, nil
	}
	updates["updated_at"] = time.Now().UTC()

	err = r.db.WithContext(ctx).Model(&models.Endpoint{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return false, fmt.Errorf("failed to update endpoint: %w", err)
	}

	return true, nil
}

// Delete removes the endpoint and cascades to its delivery attempts and
// secrets in a single transaction. Returns false when the endpoint does not
// exist; nothing is deleted in that case.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&models.Endpoint{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true

		if err := tx.Where("endpoint_id = ?", id).Delete(&models.DeliveryAttempt{}).Error; err != nil {
			return err
		}
		return tx.Where("endpoint_id = ?", id).Delete(&models.Secret{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete endpoint: %w", err)
	}

	if deleted {
		r.logger.Info("Endpoint deleted", zap.String("endpoint_id", id.String()))
	}
	return deleted, nil
}

// Get loads an endpoint by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Endpoint, error) {
	var endpoint models.Endpoint
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&endpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to load endpoint: %w", err)
	}
	return &endpoint, nil
}

// GetByName loads an endpoint by its unique name.
func (r *Registry) GetByName(ctx context.Context, name string) (*models.Endpoint, error) {
	var endpoint models.Endpoint
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&endpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to load endpoint: %w", err)
	}
	return &endpoint, nil
}

// List returns all endpoints ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]models.Endpoint, error) {
	var endpoints []models.Endpoint
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&endpoints).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return endpoints, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfiguration)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed url: %v", ErrInvalidConfiguration, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrInvalidConfiguration)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url host is required", ErrInvalidConfiguration)
	}
	return nil
}
