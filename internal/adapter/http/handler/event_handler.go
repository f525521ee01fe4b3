package handler

import (
	"encoding/json"
	"time"

	"partner-webhooks/internal/adapter/http/dto"
	"partner-webhooks/internal/adapter/http/middleware"
	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventHandler accepts domain events from other platform services.
type EventHandler struct {
	publisher ports.EventPublisher
}

// NewEventHandler creates a new event handler.
func NewEventHandler(publisher ports.EventPublisher) *EventHandler {
	return &EventHandler{publisher: publisher}
}

// Ingest handles POST /api/v1/admin/events. It returns 202 once the event is
// queued; delivery outcomes are only visible in the delivery log.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	event := domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventType(req.Type),
		PartnerID: uuid.MustParse(req.PartnerID),
		CreatedAt: time.Now().UTC(),
		Data:      req.Data,
	}
	if req.ID != nil {
		event.ID = uuid.MustParse(*req.ID)
	}
	if req.LocationID != nil {
		loc := uuid.MustParse(*req.LocationID)
		event.LocationID = &loc
	}
	if len(event.Data) == 0 {
		event.Data = json.RawMessage(`{}`)
	}

	if err := h.publisher.Publish(c.Request.Context(), event); err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, event.ID.String())
	response.Accepted(c, dto.EventAcceptedResponse{EventID: event.ID.String()})
}
