package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CtxAuditResourceID lets a handler name the resource it created.
	CtxAuditResourceID = "audit_resource_id"
	// CtxAuditPartnerID lets a handler name the partner when the request
	// was not partner-authenticated (registration, token issuance).
	CtxAuditPartnerID = "audit_partner_id"
)

// AuditLog creates an audit middleware that logs successful write operations.
// It maps the matched route template and method to an audit action.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var partnerID *uuid.UUID
		if id, ok := PartnerID(c); ok {
			partnerID = &id
		} else if v, exists := c.Get(CtxAuditPartnerID); exists {
			if id, ok := v.(uuid.UUID); ok {
				partnerID = &id
			}
		}

		resourceID := c.Param("id")
		if resourceID == "" {
			resourceID = c.GetString(CtxAuditResourceID)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"request_id": c.GetString(CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			PartnerID:    partnerID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/admin/partners" && method == http.MethodPost:
		return domain.AuditActionRegisterPartner, "partner"
	case route == "/api/v1/auth/token" && method == http.MethodPost:
		return domain.AuditActionIssueToken, "session"
	case route == "/api/v1/partners/me/api-keys" && method == http.MethodPost:
		return domain.AuditActionRotateAPIKeys, "partner"
	case route == "/api/v1/webhooks" && method == http.MethodPost:
		return domain.AuditActionCreateWebhook, "webhook"
	case route == "/api/v1/webhooks/:id" && method == http.MethodPatch:
		return domain.AuditActionUpdateWebhook, "webhook"
	case route == "/api/v1/webhooks/:id" && method == http.MethodDelete:
		return domain.AuditActionDeleteWebhook, "webhook"
	case route == "/api/v1/admin/events" && method == http.MethodPost:
		return domain.AuditActionIngestEvent, "event"
	}
	return "", ""
}
