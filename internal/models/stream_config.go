package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamAuthMode selects how connections to the stream cluster authenticate.
type StreamAuthMode string

const (
	StreamAuthNone      StreamAuthMode = "none"
	StreamAuthToken     StreamAuthMode = "token"
	StreamAuthNkey      StreamAuthMode = "key"
	StreamAuthCredsFile StreamAuthMode = "credentials-file"
)

// Valid reports whether m is one of the known auth modes.
func (m StreamAuthMode) Valid() bool {
	switch m {
	case StreamAuthNone, StreamAuthToken, StreamAuthNkey, StreamAuthCredsFile:
		return true
	}
	return false
}

// StreamConfig describes one connection-pool configuration for the JetStream
// cluster. Owned process-wide; referenced by zero or more endpoints.
type StreamConfig struct {
	ID   uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name string    `gorm:"uniqueIndex;not null" json:"name"`
	// URLs is a comma-separated list of cluster server URLs.
	URLs          string         `gorm:"not null" json:"urls"`
	AuthMode      StreamAuthMode `gorm:"not null;default:'none'" json:"auth_mode"`
	Token         string         `json:"-"`
	NkeySeedFile  string         `json:"nkey_seed_file,omitempty"`
	CredsFile     string         `json:"creds_file,omitempty"`
	StreamName    string         `json:"stream_name"`
	SubjectPrefix string         `json:"subject_prefix"`
	PoolSize      int            `gorm:"not null;default:10" json:"pool_size"`
	Enabled       bool           `gorm:"not null;default:true" json:"enabled"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (StreamConfig) TableName() string {
	return "stream_configs"
}
