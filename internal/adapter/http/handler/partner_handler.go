package handler

import (
	"partner-webhooks/internal/adapter/http/dto"
	"partner-webhooks/internal/adapter/http/middleware"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/response"

	"github.com/gin-gonic/gin"
)

// PartnerHandler handles partner provisioning and self-service endpoints.
type PartnerHandler struct {
	partnerSvc ports.PartnerService
}

// NewPartnerHandler creates a new partner handler.
func NewPartnerHandler(partnerSvc ports.PartnerService) *PartnerHandler {
	return &PartnerHandler{partnerSvc: partnerSvc}
}

// Register handles POST /api/v1/admin/partners.
func (h *PartnerHandler) Register(c *gin.Context) {
	var req dto.RegisterPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	creds, err := h.partnerSvc.Register(c.Request.Context(), req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditPartnerID, creds.PartnerID)
	c.Set(middleware.CtxAuditResourceID, creds.PartnerID.String())

	response.Created(c, dto.PartnerCredentialsResponse{
		PartnerID: creds.PartnerID.String(),
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	})
}

// GetProfile returns the authenticated partner's profile.
func (h *PartnerHandler) GetProfile(c *gin.Context) {
	partnerID, ok := middleware.PartnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	profile, err := h.partnerSvc.GetProfile(c.Request.Context(), partnerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewPartnerResponse(profile))
}

// RotateAPIKey issues a new key pair; the secret is returned only here.
func (h *PartnerHandler) RotateAPIKey(c *gin.Context) {
	partnerID, ok := middleware.PartnerID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	creds, err := h.partnerSvc.RotateAPIKey(c.Request.Context(), partnerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.PartnerCredentialsResponse{
		PartnerID: creds.PartnerID.String(),
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	})
}
