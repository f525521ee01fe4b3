package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionRegisterPartner AuditAction = "REGISTER_PARTNER"
	AuditActionIssueToken      AuditAction = "ISSUE_TOKEN"
	AuditActionRotateAPIKeys   AuditAction = "ROTATE_API_KEYS"
	AuditActionCreateWebhook   AuditAction = "CREATE_WEBHOOK"
	AuditActionUpdateWebhook   AuditAction = "UPDATE_WEBHOOK"
	AuditActionDeleteWebhook   AuditAction = "DELETE_WEBHOOK"
	AuditActionIngestEvent     AuditAction = "INGEST_EVENT"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	PartnerID    *uuid.UUID  `json:"partner_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	UserAgent    string      `json:"user_agent,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
