package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/registry"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/streampool"
)

// ErrEndpointDisabled is returned when publishing to a soft-disabled endpoint.
var ErrEndpointDisabled = errors.New("endpoint disabled")

// ErrNoSubjectConfigured is returned for stream publishes when neither the
// endpoint nor the caller supplies a subject.
var ErrNoSubjectConfigured = errors.New("no stream subject configured")

// ErrStreamUnavailable is returned for stream-only endpoints when no stream
// transport is configured for the process.
var ErrStreamUnavailable = errors.New("stream transport not configured")

// StreamPublisher is the slice of the connection pool the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Options carries per-call publish overrides.
type Options struct {
	// Subject overrides the endpoint's configured stream subject.
	Subject string
}

// StreamResult reports the outcome of the stream leg of a publish.
type StreamResult struct {
	Published bool   `json:"published"`
	Subject   string `json:"subject"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Result reports what happened to a publish call. In queue mode acceptance
// means a pending delivery attempt was durably recorded; the actual HTTP call
// happens later in the scheduler.
type Result struct {
	Accepted   bool          `json:"accepted"`
	DeliveryID *uuid.UUID    `json:"delivery_id,omitempty"`
	Stream     *StreamResult `json:"stream_result,omitempty"`
}

// Publisher serializes payloads onto an endpoint's configured transport(s):
// the durable queue, the JetStream subject, or both.
type Publisher struct {
	db            *gorm.DB
	registry      *registry.Registry
	pool          StreamPublisher
	subjectPrefix string
	logger        *zap.Logger
}

func New(db *gorm.DB, reg *registry.Registry, pool StreamPublisher, subjectPrefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		db:            db,
		registry:      reg,
		pool:          pool,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}
}

// Publish resolves the endpoint and dispatches the payload on its transport
// mode. Configuration and lookup errors are returned synchronously; transport
// failures in queue mode are absorbed into persisted state.
func (p *Publisher) Publish(ctx context.Context, endpointID uuid.UUID, payload []byte, opts *Options) (*Result, error) {
	endpoint, err := p.registry.Get(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if !endpoint.Enabled {
		return nil, ErrEndpointDisabled
	}

	switch endpoint.TransportMode {
	case models.TransportQueue:
		deliveryID, err := p.enqueue(ctx, endpoint, payload)
		if err != nil {
			return nil, err
		}
		return &Result{Accepted: true, DeliveryID: &deliveryID}, nil

	case models.TransportStream:
		subject, err := p.resolveSubject(endpoint, opts)
		if err != nil {
			return nil, err
		}
		stream, err := p.publishStream(ctx, endpoint, subject, payload)
		if err != nil {
			return &Result{Accepted: false, Stream: stream}, err
		}
		return &Result{Accepted: true, Stream: stream}, nil

	case models.TransportBoth:
		// Independent best-effort fan-out: a failure on one transport
		// does not roll back the other. A dead pool degrades the call
		// to queue-only.
		subject, err := p.resolveSubject(endpoint, opts)
		if err != nil {
			return nil, err
		}

		deliveryID, err := p.enqueue(ctx, endpoint, payload)
		if err != nil {
			return nil, err
		}

		stream, streamErr := p.publishStream(ctx, endpoint, subject, payload)
		if streamErr != nil {
			p.logger.Warn("Stream leg of fan-out failed, queue delivery still accepted",
				zap.String("endpoint", endpoint.Name),
				zap.String("subject", subject),
				zap.Error(streamErr),
			)
		}
		return &Result{Accepted: true, DeliveryID: &deliveryID, Stream: stream}, nil

	default:
		return nil, fmt.Errorf("%w: unknown transport mode %q", registry.ErrInvalidConfiguration, endpoint.TransportMode)
	}
}

// enqueue inserts a pending delivery attempt and returns its call id.
func (p *Publisher) enqueue(ctx context.Context, endpoint *models.Endpoint, payload []byte) (uuid.UUID, error) {
	now := time.Now().UTC()
	attempt := &models.DeliveryAttempt{
		ID:          uuid.New(),
		EndpointID:  endpoint.ID,
		Payload:     payload,
		Status:      models.StatusPending,
		RetryCount:  0,
		ScheduledAt: now,
		CreatedAt:   now,
	}

	if err := p.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue delivery attempt: %w", err)
	}

	p.logger.Debug("Delivery attempt enqueued",
		zap.String("call_id", attempt.ID.String()),
		zap.String("endpoint", endpoint.Name),
	)
	return attempt.ID, nil
}

// publishStream publishes synchronously over the pool and records the
// append-only audit row regardless of outcome.
func (p *Publisher) publishStream(ctx context.Context, endpoint *models.Endpoint, subject string, payload []byte) (*StreamResult, error) {
	if p.pool == nil {
		return &StreamResult{Subject: subject, Error: ErrStreamUnavailable.Error()}, ErrStreamUnavailable
	}

	start := time.Now()
	err := p.pool.Publish(ctx, subject, payload)
	latency := time.Since(start).Milliseconds()

	result := &StreamResult{
		Published: err == nil,
		Subject:   subject,
		LatencyMs: latency,
	}
	if err != nil {
		result.Error = err.Error()
	}

	p.recordPublish(ctx, endpoint, result)

	if err != nil {
		return result, err
	}
	return result, nil
}

func (p *Publisher) recordPublish(ctx context.Context, endpoint *models.Endpoint, result *StreamResult) {
	record := &models.PublishRecord{
		EndpointID: endpoint.ID,
		Subject:    result.Subject,
		Success:    result.Published,
		LatencyMs:  result.LatencyMs,
		CreatedAt:  time.Now().UTC(),
	}
	if result.Error != "" {
		record.Error = &result.Error
	}

	if err := p.db.WithContext(ctx).Create(record).Error; err != nil {
		p.logger.Error("Failed to record stream publish",
			zap.String("endpoint", endpoint.Name),
			zap.String("subject", result.Subject),
			zap.Error(err),
		)
	}
}

// resolveSubject picks the caller override when present, otherwise the
// endpoint's configured subject, and applies the process-wide prefix.
func (p *Publisher) resolveSubject(endpoint *models.Endpoint, opts *Options) (string, error) {
	subject := endpoint.StreamSubject
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	if subject == "" {
		return "", ErrNoSubjectConfigured
	}
	if p.subjectPrefix != "" {
		subject = p.subjectPrefix + "." + subject
	}
	return subject, nil
}

// IsPoolExhausted reports whether err is the pool's all-connections-dead
// failure, which callers may treat as retryable.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, streampool.ErrPoolExhausted)
}
