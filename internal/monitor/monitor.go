package monitor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// Monitor provides read-only views over the delivery queue and the stream
// publish history. It never mutates state.
type Monitor struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Monitor {
	return &Monitor{db: db}
}

// EndpointStats summarizes delivery outcomes for one endpoint.
type EndpointStats struct {
	EndpointID      uuid.UUID `json:"endpoint_id"`
	Name            string    `json:"name"`
	Success         int64     `json:"success"`
	Failed          int64     `json:"failed"`
	Pending         int64     `json:"pending"`
	Retrying        int64     `json:"retrying"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	StreamPublishes int64     `json:"stream_publishes"`
	StreamFailures  int64     `json:"stream_failures"`
}

// Backlog is the queue depth of not-yet-terminal attempts.
type Backlog struct {
	Pending  int64 `json:"pending"`
	Retrying int64 `json:"retrying"`
}

// Stats returns delivery statistics for a single endpoint.
func (m *Monitor) Stats(ctx context.Context, endpointID uuid.UUID) (*EndpointStats, error) {
	var endpoint models.Endpoint
	if err := m.db.WithContext(ctx).Where("id = ?", endpointID).First(&endpoint).Error; err != nil {
		return nil, fmt.Errorf("failed to load endpoint: %w", err)
	}

	stats := &EndpointStats{EndpointID: endpoint.ID, Name: endpoint.Name}
	if err := m.fillStats(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Overview returns delivery statistics for every registered endpoint.
func (m *Monitor) Overview(ctx context.Context) ([]EndpointStats, error) {
	var endpoints []models.Endpoint
	if err := m.db.WithContext(ctx).Order("name ASC").Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	overview := make([]EndpointStats, 0, len(endpoints))
	for _, endpoint := range endpoints {
		stats := EndpointStats{EndpointID: endpoint.ID, Name: endpoint.Name}
		if err := m.fillStats(ctx, &stats); err != nil {
			return nil, err
		}
		overview = append(overview, stats)
	}
	return overview, nil
}

func (m *Monitor) fillStats(ctx context.Context, stats *EndpointStats) error {
	type statusCount struct {
		Status models.DeliveryStatus
		Count  int64
	}
	var counts []statusCount

	err := m.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Select("status, COUNT(*) as count").
		Where("endpoint_id = ?", stats.EndpointID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return fmt.Errorf("failed to count delivery attempts: %w", err)
	}

	for _, c := range counts {
		switch c.Status {
		case models.StatusSuccess:
			stats.Success = c.Count
		case models.StatusFailed:
			stats.Failed = c.Count
		case models.StatusPending:
			stats.Pending = c.Count
		case models.StatusRetrying:
			stats.Retrying = c.Count
		}
	}

	var avgLatency sql.NullFloat64
	err = m.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Select("AVG(latency_ms)").
		Where("endpoint_id = ? AND latency_ms IS NOT NULL", stats.EndpointID).
		Scan(&avgLatency).Error
	if err != nil {
		return fmt.Errorf("failed to compute average latency: %w", err)
	}
	if avgLatency.Valid {
		stats.AvgLatencyMs = avgLatency.Float64
	}

	err = m.db.WithContext(ctx).Model(&models.PublishRecord{}).
		Where("endpoint_id = ?", stats.EndpointID).
		Count(&stats.StreamPublishes).Error
	if err != nil {
		return fmt.Errorf("failed to count stream publishes: %w", err)
	}

	err = m.db.WithContext(ctx).Model(&models.PublishRecord{}).
		Where("endpoint_id = ? AND success = ?", stats.EndpointID, false).
		Count(&stats.StreamFailures).Error
	if err != nil {
		return fmt.Errorf("failed to count stream failures: %w", err)
	}

	return nil
}

// QueueBacklog returns the number of pending and retrying attempts across all
// endpoints.
func (m *Monitor) QueueBacklog(ctx context.Context) (*Backlog, error) {
	backlog := &Backlog{}

	err := m.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Where("status = ?", models.StatusPending).
		Count(&backlog.Pending).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count pending attempts: %w", err)
	}

	err = m.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Where("status = ?", models.StatusRetrying).
		Count(&backlog.Retrying).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count retrying attempts: %w", err)
	}

	return backlog, nil
}

// FailedDeliveries lists terminal failed attempts with their last error for
// operator triage, newest first.
func (m *Monitor) FailedDeliveries(ctx context.Context, limit int) ([]models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var attempts []models.DeliveryAttempt
	err := m.db.WithContext(ctx).
		Where("status = ?", models.StatusFailed).
		Order("completed_at DESC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	return attempts, nil
}
