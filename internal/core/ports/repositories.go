package ports

import (
	"context"
	"time"

	"partner-webhooks/internal/core/domain"

	"github.com/google/uuid"
)

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

// PartnerRepository defines persistence operations for partners.
type PartnerRepository interface {
	Create(ctx context.Context, partner *domain.Partner) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Partner, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Partner, error)
	// UpdateCredentials replaces the API key and secret hash in one statement.
	UpdateCredentials(ctx context.Context, id uuid.UUID, apiKey, apiSecretHash string) error
}

// SubscriptionRepository defines persistence operations for webhook subscriptions.
// Every partner-facing read and write is scoped by both id and partner id;
// a row owned by another partner behaves exactly like a missing row.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.WebhookSubscription) error
	// GetByID returns nil, nil when the row does not exist or is not owned by partnerID.
	GetByID(ctx context.Context, id, partnerID uuid.UUID) (*domain.WebhookSubscription, error)
	// ListByPartner returns subscriptions ordered by creation time, then id.
	ListByPartner(ctx context.Context, partnerID uuid.UUID) ([]domain.WebhookSubscription, error)
	// Update applies patch atomically and returns the updated row, or nil, nil when not found.
	Update(ctx context.Context, id, partnerID uuid.UUID, patch SubscriptionPatch) (*domain.WebhookSubscription, error)
	// Delete hard-deletes the row and reports whether one was removed.
	Delete(ctx context.Context, id, partnerID uuid.UUID) (bool, error)

	// ListActiveForEvent resolves active subscriptions of partnerID that
	// subscribe to eventType and whose location is unset or equals locationID.
	ListActiveForEvent(ctx context.Context, partnerID uuid.UUID, eventType domain.EventType, locationID *uuid.UUID) ([]domain.WebhookSubscription, error)
	// RecordSuccess stamps last_triggered_at and last_success_at.
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure increments failure_count in place and stamps last_triggered_at
	// and last_failure_at. When disableAfter > 0 and the new count reaches it,
	// the subscription is deactivated in the same statement.
	RecordFailure(ctx context.Context, id uuid.UUID, at time.Time, disableAfter int) error
}

// SubscriptionPatch is a partial update. Nil pointers leave the column
// unchanged; the Set flags distinguish "omitted" from "set to null".
type SubscriptionPatch struct {
	URL      *string
	Events   []domain.EventType // nil = unchanged
	IsActive *bool

	LocationIDSet bool
	LocationID    *uuid.UUID

	HeadersSet bool
	Headers    map[string]string

	SecretEnc     *string // new encrypted secret on rotation
	ResetFailures bool
	UpdatedAt     time.Time
}

// DeliveryLogRepository is the append-only delivery log.
type DeliveryLogRepository interface {
	Append(ctx context.Context, entry *domain.DeliveryLogEntry) error
	// ListRecent returns at most limit entries, most recent first.
	ListRecent(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLogEntry, error)
}

// AuditRepository persists audit log rows.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}
