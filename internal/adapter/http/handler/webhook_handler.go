package handler

import (
	"strconv"

	"partner-webhooks/internal/adapter/http/dto"
	"partner-webhooks/internal/adapter/http/middleware"
	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const subscriptionEntity = "Webhook subscription"

// WebhookHandler serves the partner-facing subscription API.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// Create handles POST /api/v1/webhooks. The response carries the signing
// secret; it is never returned again.
func (h *WebhookHandler) Create(c *gin.Context) {
	partnerID, ok := middleware.PartnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	var locationID *uuid.UUID
	if req.LocationID != nil {
		id, err := uuid.Parse(*req.LocationID)
		if err != nil {
			response.Error(c, apperror.Validation("location_id must be a UUID"))
			return
		}
		locationID = &id
	}

	result, err := h.webhookSvc.Create(c.Request.Context(), ports.CreateSubscriptionRequest{
		PartnerID:  partnerID,
		URL:        req.URL,
		Events:     req.Events,
		LocationID: locationID,
		Headers:    req.Headers,
		IsActive:   req.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, result.Subscription.ID.String())
	response.OK(c, dto.NewWebhookResponse(result.Subscription, result.Secret))
}

// List handles GET /api/v1/webhooks.
func (h *WebhookHandler) List(c *gin.Context) {
	partnerID, ok := middleware.PartnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	subs, err := h.webhookSvc.List(c.Request.Context(), partnerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWebhookListResponse(subs))
}

// Get handles GET /api/v1/webhooks/:id.
func (h *WebhookHandler) Get(c *gin.Context) {
	partnerID, id, ok := h.scope(c)
	if !ok {
		return
	}

	detail, err := h.webhookSvc.Get(c.Request.Context(), id, partnerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWebhookDetailResponse(detail))
}

// Update handles PATCH /api/v1/webhooks/:id.
func (h *WebhookHandler) Update(c *gin.Context) {
	partnerID, id, ok := h.scope(c)
	if !ok {
		return
	}

	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	update := ports.UpdateSubscriptionRequest{
		ID:               id,
		PartnerID:        partnerID,
		URL:              req.URL,
		Events:           req.Events,
		IsActive:         req.IsActive,
		LocationIDSet:    req.LocationID.Set,
		HeadersSet:       req.Headers.Set,
		RegenerateSecret: req.RegenerateSecret,
	}
	if req.LocationID.Valid {
		loc, err := uuid.Parse(req.LocationID.Value)
		if err != nil {
			response.Error(c, apperror.Validation("location_id must be a UUID or null"))
			return
		}
		update.LocationID = &loc
	}
	if req.Headers.Valid {
		update.Headers = req.Headers.Value
	}

	result, err := h.webhookSvc.Update(c.Request.Context(), update)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWebhookResponse(result.Subscription, result.Secret))
}

// Delete handles DELETE /api/v1/webhooks/:id.
func (h *WebhookHandler) Delete(c *gin.Context) {
	partnerID, id, ok := h.scope(c)
	if !ok {
		return
	}

	if err := h.webhookSvc.Delete(c.Request.Context(), id, partnerID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"id": id.String(), "deleted": true})
}

// ListDeliveries handles GET /api/v1/webhooks/:id/deliveries?limit=N.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	partnerID, id, ok := h.scope(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.webhookSvc.ListDeliveries(c.Request.Context(), id, partnerID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewDeliveryListResponse(entries))
}

// ListEventTypes handles GET /api/v1/webhooks/events.
func (h *WebhookHandler) ListEventTypes(c *gin.Context) {
	response.OK(c, dto.EventTypesResponse{Events: domain.EventTypeNames()})
}

// scope resolves the caller and the :id parameter. A malformed id is
// reported exactly like a missing subscription.
func (h *WebhookHandler) scope(c *gin.Context) (partnerID, id uuid.UUID, ok bool) {
	partnerID, ok = middleware.PartnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound(subscriptionEntity))
		return uuid.Nil, uuid.Nil, false
	}
	return partnerID, id, true
}
