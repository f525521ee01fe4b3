package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryLogEntry records one webhook delivery attempt. Entries are never
// updated after they are written.
type DeliveryLogEntry struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EventID        uuid.UUID `json:"event_id"`
	EventType      EventType `json:"event_type"`
	Attempt        int       `json:"attempt"`
	StatusCode     *int      `json:"status_code"` // nil when no response was received
	Success        bool      `json:"success"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	ErrorMessage   *string   `json:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsSuccessStatus reports whether an HTTP status counts as a delivered webhook.
func IsSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
