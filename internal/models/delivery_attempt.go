package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the state of a delivery attempt in its lifecycle.
type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "pending"
	StatusRetrying DeliveryStatus = "retrying"
	StatusSuccess  DeliveryStatus = "success"
	StatusFailed   DeliveryStatus = "failed"
)

// Terminal reports whether the status is final and will never change again.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// DeliveryAttempt tracks the lifecycle of a single payload delivery to an
// endpoint, including retries. The row is the single source of truth for the
// delivery state machine: pending -> success | retrying -> ... -> failed.
type DeliveryAttempt struct {
	ID         uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	EndpointID uuid.UUID      `gorm:"type:uuid;not null;index" json:"endpoint_id"`
	Payload    []byte         `gorm:"not null" json:"payload"`
	Status     DeliveryStatus `gorm:"not null;default:'pending';index" json:"status"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	// NextRetryAt is set only while the attempt is retrying.
	NextRetryAt *time.Time `gorm:"index" json:"next_retry_at,omitempty"`
	// ClaimedAt marks a row as in-flight so concurrent workers never
	// process the same attempt twice. Cleared when the attempt settles;
	// a marker older than the scheduler's claim timeout is treated as
	// abandoned and the row becomes claimable again.
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	LatencyMs    *int64     `json:"latency_ms,omitempty"`
	ResponseCode *int       `json:"response_code,omitempty"`
	ScheduledAt  time.Time  `gorm:"not null" json:"scheduled_at"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}
