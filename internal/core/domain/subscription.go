package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxWebhookURLLength bounds the stored subscription URL.
	MaxWebhookURLLength = 2048
	// RecentDeliveryLimit is the number of delivery log entries returned with a subscription.
	RecentDeliveryLimit = 20
)

// WebhookSubscription describes where and for which event types a partner
// receives notifications.
type WebhookSubscription struct {
	ID              uuid.UUID         `json:"id"`
	PartnerID       uuid.UUID         `json:"partner_id"`
	LocationID      *uuid.UUID        `json:"location_id"`
	URL             string            `json:"url"`
	SecretEnc       string            `json:"-"` // AES-256-GCM encrypted signing secret
	Events          []EventType       `json:"events"`
	IsActive        bool              `json:"is_active"`
	Headers         map[string]string `json:"headers"`
	FailureCount    int               `json:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at"`
	LastSuccessAt   *time.Time        `json:"last_success_at"`
	LastFailureAt   *time.Time        `json:"last_failure_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasSecret reports whether a signing secret is stored for the subscription.
func (s *WebhookSubscription) HasSecret() bool {
	return s.SecretEnc != ""
}

// Subscribes reports whether the subscription's event filter contains t.
func (s *WebhookSubscription) Subscribes(t EventType) bool {
	return slices.Contains(s.Events, t)
}

// Matches reports whether event should be delivered to this subscription.
// A subscription without a location receives events for every location.
func (s *WebhookSubscription) Matches(event Event) bool {
	if !s.IsActive || s.PartnerID != event.PartnerID || !s.Subscribes(event.Type) {
		return false
	}
	if s.LocationID == nil {
		return true
	}
	return event.LocationID != nil && *event.LocationID == *s.LocationID
}
