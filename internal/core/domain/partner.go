package domain

import (
	"time"

	"github.com/google/uuid"
)

// PartnerStatus represents the state of a partner account.
type PartnerStatus string

const (
	PartnerStatusActive    PartnerStatus = "ACTIVE"
	PartnerStatusSuspended PartnerStatus = "SUSPENDED"
)

// Partner is a tenant business account that owns webhook subscriptions.
type Partner struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	APIKey        string        `json:"api_key"`
	APISecretHash string        `json:"-"` // Argon2id hash, never expose
	Status        PartnerStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsActive returns true if the partner account is active.
func (p *Partner) IsActive() bool {
	return p.Status == PartnerStatusActive
}
