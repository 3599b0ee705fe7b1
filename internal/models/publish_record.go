package models

import (
	"time"

	"github.com/google/uuid"
)

// PublishRecord is the audit row written for every publish attempt to the
// stream transport. Append-only; never mutated after insert.
type PublishRecord struct {
	ID         int64     `gorm:"primary_key;autoIncrement" json:"id"`
	EndpointID uuid.UUID `gorm:"type:uuid;not null;index" json:"endpoint_id"`
	Subject    string    `gorm:"not null" json:"subject"`
	Success    bool      `gorm:"not null" json:"success"`
	Error      *string   `json:"error,omitempty"`
	LatencyMs  int64     `gorm:"not null" json:"latency_ms"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (PublishRecord) TableName() string {
	return "stream_publish_records"
}
