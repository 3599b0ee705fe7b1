package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/executor"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/registry"
)

// DefaultClaimTimeout is how long a claimed_at marker is trusted. A worker
// that dies mid-delivery leaves its claim behind; once the marker is older
// than this the row is treated as unclaimed and picked up again. Must stay
// comfortably above the largest endpoint timeout.
const DefaultClaimTimeout = 5 * time.Minute

// Scheduler drains the delivery queue: fresh pending rows and retrying rows
// whose next_retry_at has passed. Safe under concurrent invocation — each row
// is claimed with a conditional update so two scheduler instances never
// process the same attempt twice. Claims left behind by a crashed worker are
// reclaimed after the claim timeout so no delivery is silently dropped.
type Scheduler struct {
	db       *gorm.DB
	registry *registry.Registry
	executor *executor.Executor
	logger   *zap.Logger

	batchSize    int
	claimTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClaimTimeout overrides how long in-flight claims are trusted.
func WithClaimTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		s.claimTimeout = timeout
	}
}

func New(db *gorm.DB, reg *registry.Registry, exec *executor.Executor, batchSize int, logger *zap.Logger, opts ...Option) *Scheduler {
	if batchSize <= 0 {
		batchSize = 100
	}
	s := &Scheduler{
		db:           db,
		registry:     reg,
		executor:     exec,
		logger:       logger,
		batchSize:    batchSize,
		claimTimeout: DefaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessDueRetries selects retrying attempts whose next_retry_at has passed,
// ordered by next_retry_at ascending, claims each one and resubmits it to the
// executor. Attempts on disabled endpoints are skipped and stay due until the
// endpoint is re-enabled. Returns the number of attempts processed.
func (s *Scheduler) ProcessDueRetries(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var due []models.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", models.StatusRetrying, now).
		Order("next_retry_at ASC").
		Limit(s.batchSize).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select due retries: %w", err)
	}

	processed := 0
	endpoints := map[uuid.UUID]*models.Endpoint{}

	for i := range due {
		attempt := &due[i]

		endpoint, err := s.endpointFor(ctx, endpoints, attempt.EndpointID)
		if err != nil {
			s.logger.Error("Failed to load endpoint for due retry",
				zap.String("call_id", attempt.ID.String()),
				zap.String("endpoint_id", attempt.EndpointID.String()),
				zap.Error(err),
			)
			continue
		}
		if !endpoint.Enabled {
			// Leave the row due; it becomes eligible again once the
			// endpoint is re-enabled.
			continue
		}

		claimed, err := s.claimRetry(ctx, attempt)
		if err != nil {
			s.logger.Error("Failed to claim due retry",
				zap.String("call_id", attempt.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			// Another scheduler instance got there first.
			continue
		}

		if _, err := s.executor.Execute(ctx, endpoint, attempt); err != nil {
			s.logger.Error("Failed to execute due retry",
				zap.String("call_id", attempt.ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	return processed, nil
}

// ProcessPending drains freshly enqueued pending rows. Queue-mode publishes
// are asynchronous: the publisher only inserts the row, the HTTP call happens
// here. Rows whose claim has gone stale are selected too; a retrying row
// claimed by a crashed worker surfaces here as well, since claiming moves it
// to pending.
func (s *Scheduler) ProcessPending(ctx context.Context) (int, error) {
	stale := time.Now().UTC().Add(-s.claimTimeout)

	var pending []models.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", models.StatusPending, stale).
		Order("scheduled_at ASC").
		Limit(s.batchSize).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select pending attempts: %w", err)
	}

	processed := 0
	endpoints := map[uuid.UUID]*models.Endpoint{}

	for i := range pending {
		attempt := &pending[i]

		endpoint, err := s.endpointFor(ctx, endpoints, attempt.EndpointID)
		if err != nil {
			s.logger.Error("Failed to load endpoint for pending attempt",
				zap.String("call_id", attempt.ID.String()),
				zap.String("endpoint_id", attempt.EndpointID.String()),
				zap.Error(err),
			)
			continue
		}
		if !endpoint.Enabled {
			continue
		}

		claimed, err := s.claimPending(ctx, attempt)
		if err != nil {
			s.logger.Error("Failed to claim pending attempt",
				zap.String("call_id", attempt.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		if _, err := s.executor.Execute(ctx, endpoint, attempt); err != nil {
			s.logger.Error("Failed to execute pending attempt",
				zap.String("call_id", attempt.ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	return processed, nil
}

// claimRetry atomically moves a retrying row into in-flight pending state,
// incrementing its retry count. The compare-and-set on status guarantees at
// most one claimer wins.
func (s *Scheduler) claimRetry(ctx context.Context, attempt *models.DeliveryAttempt) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Where("id = ? AND status = ?", attempt.ID, models.StatusRetrying).
		Updates(map[string]interface{}{
			"status":        models.StatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nil,
			"claimed_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	attempt.Status = models.StatusPending
	attempt.RetryCount++
	attempt.NextRetryAt = nil
	attempt.ClaimedAt = &now
	return true, nil
}

// claimPending marks a pending row as in-flight. A stale claim counts as
// unclaimed so the row can be taken over.
func (s *Scheduler) claimPending(ctx context.Context, attempt *models.DeliveryAttempt) (bool, error) {
	now := time.Now().UTC()
	stale := now.Add(-s.claimTimeout)
	res := s.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Where("id = ? AND status = ? AND (claimed_at IS NULL OR claimed_at < ?)", attempt.ID, models.StatusPending, stale).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	attempt.ClaimedAt = &now
	return true, nil
}

// Retry moves a failed attempt back to retrying, due immediately, when its
// retry budget is not exhausted. Returns false without mutating state
// otherwise, so retrying an exhausted attempt is an idempotent no-op.
func (s *Scheduler) Retry(ctx context.Context, callID uuid.UUID) (bool, error) {
	var attempt models.DeliveryAttempt
	err := s.db.WithContext(ctx).Where("id = ?", callID).First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load delivery attempt: %w", err)
	}

	if attempt.Status != models.StatusFailed {
		return false, nil
	}

	endpoint, err := s.registry.Get(ctx, attempt.EndpointID)
	if err != nil {
		return false, err
	}
	if attempt.RetryCount >= endpoint.MaxRetryCount {
		return false, nil
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Where("id = ? AND status = ?", callID, models.StatusFailed).
		Updates(map[string]interface{}{
			"status":        models.StatusRetrying,
			"next_retry_at": now,
			"completed_at":  nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to reopen delivery attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	s.logger.Info("Failed delivery reopened for retry",
		zap.String("call_id", callID.String()),
		zap.Int("retry_count", attempt.RetryCount),
	)
	return true, nil
}

// CleanupOldAttempts deletes attempts created before olderThan. When
// onlyTerminal is set, only success/failed rows are removed. Returns the
// number of rows deleted.
func (s *Scheduler) CleanupOldAttempts(ctx context.Context, olderThan time.Time, onlyTerminal bool) (int64, error) {
	query := s.db.WithContext(ctx).Where("created_at < ?", olderThan)
	if onlyTerminal {
		query = query.Where("status IN ?", []models.DeliveryStatus{models.StatusSuccess, models.StatusFailed})
	}

	res := query.Delete(&models.DeliveryAttempt{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up old attempts: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		s.logger.Info("Old delivery attempts cleaned up",
			zap.Int64("deleted", res.RowsAffected),
			zap.Time("older_than", olderThan),
			zap.Bool("only_terminal", onlyTerminal),
		)
	}
	return res.RowsAffected, nil
}

func (s *Scheduler) endpointFor(ctx context.Context, cache map[uuid.UUID]*models.Endpoint, id uuid.UUID) (*models.Endpoint, error) {
	if endpoint, ok := cache[id]; ok {
		return endpoint, nil
	}
	endpoint, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = endpoint
	return endpoint, nil
}
