package ports

import (
	"context"
	"time"

	"partner-webhooks/internal/core/domain"

	"github.com/google/uuid"
)

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService signs webhook bodies with HMAC-SHA256.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// HashService handles one-way secret hashing (Argon2id).
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(partnerID uuid.UUID, apiKey string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	PartnerID uuid.UUID
	APIKey    string
}

// SecretGenerator produces signing secrets and API credentials from a
// cryptographically secure source.
type SecretGenerator interface {
	GenerateWebhookSecret() (string, error)
	GenerateAPIKey() (*APICredentials, error)
}

// APICredentials is a freshly generated key pair. APISecret is plaintext and
// must be shown to the caller exactly once; only APISecretHash is persisted.
type APICredentials struct {
	APIKey        string
	APISecret     string
	APISecretHash string
}

// RateLimiter enforces per-key request quotas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// EventDeduper remembers event ids for a bounded time.
type EventDeduper interface {
	// FirstSeen records eventID and reports whether it had not been seen before.
	FirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// PartnerService manages partner accounts and their API credentials.
type PartnerService interface {
	Register(ctx context.Context, name string) (*PartnerCredentials, error)
	IssueToken(ctx context.Context, apiKey, apiSecret string) (string, time.Time, error) // token, expiry, error
	RotateAPIKey(ctx context.Context, partnerID uuid.UUID) (*PartnerCredentials, error)
	GetProfile(ctx context.Context, partnerID uuid.UUID) (*domain.Partner, error)
}

// PartnerCredentials is returned once, at registration or rotation.
type PartnerCredentials struct {
	PartnerID uuid.UUID
	APIKey    string
	APISecret string // Plaintext, shown only once
}

// WebhookService is the partner-facing subscription store.
type WebhookService interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResult, error)
	List(ctx context.Context, partnerID uuid.UUID) ([]domain.WebhookSubscription, error)
	Get(ctx context.Context, id, partnerID uuid.UUID) (*SubscriptionDetail, error)
	Update(ctx context.Context, req UpdateSubscriptionRequest) (*SubscriptionResult, error)
	Delete(ctx context.Context, id, partnerID uuid.UUID) error
	ListDeliveries(ctx context.Context, id, partnerID uuid.UUID, limit int) ([]domain.DeliveryLogEntry, error)
}

// CreateSubscriptionRequest holds input for subscription registration.
// PartnerID comes from the authenticated session.
type CreateSubscriptionRequest struct {
	PartnerID  uuid.UUID
	URL        string
	Events     []string
	LocationID *uuid.UUID
	Headers    map[string]string
	IsActive   *bool // nil = true
}

// UpdateSubscriptionRequest is a partial update; see SubscriptionPatch for
// the omitted/null distinction.
type UpdateSubscriptionRequest struct {
	ID        uuid.UUID
	PartnerID uuid.UUID

	URL      *string
	Events   *[]string
	IsActive *bool

	LocationIDSet bool
	LocationID    *uuid.UUID

	HeadersSet bool
	Headers    map[string]string

	RegenerateSecret bool
}

// SubscriptionResult is a subscription plus the plaintext secret when one
// was generated by this call.
type SubscriptionResult struct {
	Subscription domain.WebhookSubscription
	Secret       string
}

// SubscriptionDetail is a subscription with its most recent deliveries.
type SubscriptionDetail struct {
	Subscription     domain.WebhookSubscription
	RecentDeliveries []domain.DeliveryLogEntry
}

// EventPublisher hands domain events to the webhook dispatcher. Publish
// returns once the event is queued; delivery outcomes never surface here.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
