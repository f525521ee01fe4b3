package dto

import (
	"encoding/json"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
)

// RegisterPartnerRequest is the request body for partner provisioning.
type RegisterPartnerRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255,safe_name"`
}

// PartnerCredentialsResponse carries a freshly issued key pair.
type PartnerCredentialsResponse struct {
	PartnerID string `json:"partner_id"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenRequest exchanges API credentials for a session token.
type TokenRequest struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse is the response body for a successful token exchange.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // Unix timestamp
}

// PartnerResponse is the partner profile. It never carries secrets.
type PartnerResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// CreateWebhookRequest is the request body for subscription registration.
// Events are validated by the service so that an empty list and unknown
// tags produce their dedicated error codes.
type CreateWebhookRequest struct {
	URL        string            `json:"url" binding:"required"`
	Events     []string          `json:"events"`
	LocationID *string           `json:"location_id" binding:"omitempty,uuid"`
	Headers    map[string]string `json:"headers"`
	IsActive   *bool             `json:"is_active"`
}

// UpdateWebhookRequest is a partial update. Absent fields are unchanged;
// location_id and headers may be set to null explicitly.
type UpdateWebhookRequest struct {
	URL              *string                     `json:"url"`
	Events           *[]string                   `json:"events"`
	IsActive         *bool                       `json:"is_active"`
	LocationID       Nullable[string]            `json:"location_id"`
	Headers          Nullable[map[string]string] `json:"headers"`
	RegenerateSecret bool                        `json:"regenerate_secret"`
}

// Nullable distinguishes an absent JSON field from an explicit null.
type Nullable[T any] struct {
	Set   bool // field present in the body
	Valid bool // field present and not null
	Value T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// WebhookResponse renders a subscription. Secret is present only in the
// response that generated it; every other response carries has_secret.
type WebhookResponse struct {
	ID              string            `json:"id"`
	PartnerID       string            `json:"partner_id"`
	LocationID      *string           `json:"location_id"`
	URL             string            `json:"url"`
	Events          []string          `json:"events"`
	IsActive        bool              `json:"is_active"`
	Headers         map[string]string `json:"headers"`
	Secret          string            `json:"secret,omitempty"`
	HasSecret       *bool             `json:"has_secret,omitempty"`
	FailureCount    int               `json:"failure_count"`
	LastTriggeredAt *string           `json:"last_triggered_at"`
	LastSuccessAt   *string           `json:"last_success_at"`
	LastFailureAt   *string           `json:"last_failure_at"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// WebhookDetailResponse is a subscription with its most recent deliveries.
type WebhookDetailResponse struct {
	WebhookResponse
	RecentDeliveries []DeliveryResponse `json:"recent_deliveries"`
}

// DeliveryResponse renders one delivery log entry.
type DeliveryResponse struct {
	ID             string  `json:"id"`
	EventID        string  `json:"event_id"`
	EventType      string  `json:"event_type"`
	Attempt        int     `json:"attempt"`
	StatusCode     *int    `json:"status_code"`
	Success        bool    `json:"success"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	ErrorMessage   *string `json:"error_message"`
	DeliveredAt    string  `json:"delivered_at"`
}

// EventTypesResponse lists the supported event tags.
type EventTypesResponse struct {
	Events []string `json:"events"`
}

// IngestEventRequest is a domain event submitted for delivery.
type IngestEventRequest struct {
	ID         *string         `json:"id" binding:"omitempty,uuid"`
	Type       string          `json:"type" binding:"required,event_type"`
	PartnerID  string          `json:"partner_id" binding:"required,uuid"`
	LocationID *string         `json:"location_id" binding:"omitempty,uuid"`
	Data       json.RawMessage `json:"data"`
}

// EventAcceptedResponse acknowledges a queued event.
type EventAcceptedResponse struct {
	EventID string `json:"event_id"`
}

// NewWebhookResponse renders sub. A non-empty secret is included verbatim
// and replaces has_secret.
func NewWebhookResponse(sub domain.WebhookSubscription, secret string) WebhookResponse {
	events := make([]string, len(sub.Events))
	for i, e := range sub.Events {
		events[i] = string(e)
	}

	resp := WebhookResponse{
		ID:              sub.ID.String(),
		PartnerID:       sub.PartnerID.String(),
		URL:             sub.URL,
		Events:          events,
		IsActive:        sub.IsActive,
		Headers:         sub.Headers,
		FailureCount:    sub.FailureCount,
		LastTriggeredAt: formatTimePtr(sub.LastTriggeredAt),
		LastSuccessAt:   formatTimePtr(sub.LastSuccessAt),
		LastFailureAt:   formatTimePtr(sub.LastFailureAt),
		CreatedAt:       formatTime(sub.CreatedAt),
		UpdatedAt:       formatTime(sub.UpdatedAt),
	}
	if sub.LocationID != nil {
		loc := sub.LocationID.String()
		resp.LocationID = &loc
	}
	if secret != "" {
		resp.Secret = secret
	} else {
		hasSecret := sub.HasSecret()
		resp.HasSecret = &hasSecret
	}
	return resp
}

// NewWebhookListResponse renders subs without secrets.
func NewWebhookListResponse(subs []domain.WebhookSubscription) []WebhookResponse {
	out := make([]WebhookResponse, len(subs))
	for i, s := range subs {
		out[i] = NewWebhookResponse(s, "")
	}
	return out
}

// NewWebhookDetailResponse renders a subscription with its recent deliveries.
func NewWebhookDetailResponse(detail *ports.SubscriptionDetail) WebhookDetailResponse {
	return WebhookDetailResponse{
		WebhookResponse:  NewWebhookResponse(detail.Subscription, ""),
		RecentDeliveries: NewDeliveryListResponse(detail.RecentDeliveries),
	}
}

// NewDeliveryListResponse renders delivery log entries in the given order.
func NewDeliveryListResponse(entries []domain.DeliveryLogEntry) []DeliveryResponse {
	out := make([]DeliveryResponse, len(entries))
	for i, e := range entries {
		out[i] = DeliveryResponse{
			ID:             e.ID.String(),
			EventID:        e.EventID.String(),
			EventType:      string(e.EventType),
			Attempt:        e.Attempt,
			StatusCode:     e.StatusCode,
			Success:        e.Success,
			ResponseTimeMs: e.ResponseTimeMs,
			ErrorMessage:   e.ErrorMessage,
			DeliveredAt:    formatTime(e.DeliveredAt),
		}
	}
	return out
}

// NewPartnerResponse renders a partner profile.
func NewPartnerResponse(p *domain.Partner) PartnerResponse {
	return PartnerResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		APIKey:    p.APIKey,
		Status:    string(p.Status),
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
