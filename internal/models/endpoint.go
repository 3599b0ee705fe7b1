package models

import (
	"time"

	"github.com/google/uuid"
)

// TransportMode selects which delivery path(s) an endpoint uses.
type TransportMode string

const (
	TransportQueue  TransportMode = "queue"
	TransportStream TransportMode = "stream"
	TransportBoth   TransportMode = "both"
)

// Valid reports whether m is one of the known transport modes.
func (m TransportMode) Valid() bool {
	switch m {
	case TransportQueue, TransportStream, TransportBoth:
		return true
	}
	return false
}

// UsesQueue reports whether deliveries for this mode go through the durable queue.
func (m TransportMode) UsesQueue() bool {
	return m == TransportQueue || m == TransportBoth
}

// UsesStream reports whether deliveries for this mode are published to the stream.
func (m TransportMode) UsesStream() bool {
	return m == TransportStream || m == TransportBoth
}

// Endpoint is a registered outbound webhook destination.
type Endpoint struct {
	ID            uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	Name          string            `gorm:"uniqueIndex;not null" json:"name"`
	URL           string            `gorm:"not null" json:"url"`
	Method        string            `gorm:"not null;default:'POST'" json:"method"`
	Headers       map[string]string `gorm:"serializer:json" json:"headers,omitempty"`
	Description   string            `json:"description"`
	TimeoutMs     int               `gorm:"not null;default:30000" json:"timeout_ms"`
	MaxRetryCount int               `gorm:"not null;default:3" json:"max_retry_count"`
	Enabled       bool              `gorm:"not null;default:true" json:"enabled"`
	TransportMode TransportMode     `gorm:"not null;default:'queue'" json:"transport_mode"`
	// StreamSubject must be non-empty when TransportMode uses the stream.
	StreamSubject  string     `json:"stream_subject"`
	StreamConfigID *uuid.UUID `gorm:"type:uuid" json:"stream_config_id,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (Endpoint) TableName() string {
	return "webhook_endpoints"
}

// Timeout returns the configured delivery timeout as a duration.
func (e *Endpoint) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}
