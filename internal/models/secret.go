package models

import (
	"time"

	"github.com/google/uuid"
)

// SigningSecretName is the per-endpoint secret consulted by the HTTP executor
// to HMAC-sign outgoing payloads.
const SigningSecretName = "signing"

// Secret is an opaque named value owned exclusively by one endpoint.
// Deleted individually or via cascade when the endpoint is deleted.
type Secret struct {
	ID         int64     `gorm:"primary_key;autoIncrement" json:"id"`
	EndpointID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_endpoint_secret" json:"endpoint_id"`
	Name       string    `gorm:"not null;uniqueIndex:idx_endpoint_secret" json:"name"`
	Value      string    `gorm:"not null" json:"-"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Secret) TableName() string {
	return "endpoint_secrets"
}
