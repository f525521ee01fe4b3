package handler

import (
	"context"
	"net/http"
	"time"

	"partner-webhooks/internal/adapter/http/dto"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/response"

	"github.com/gin-gonic/gin"
)

// healthTimeout bounds the dependency pings of /health.
const healthTimeout = 3 * time.Second

// AuthHandler handles partner session endpoints.
type AuthHandler struct {
	partnerSvc ports.PartnerService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(partnerSvc ports.PartnerService) *AuthHandler {
	return &AuthHandler{partnerSvc: partnerSvc}
}

// IssueToken handles POST /api/v1/auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, expiry, err := h.partnerSvc.IssueToken(c.Request.Context(), req.APIKey, req.APISecret)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.TokenResponse{
		Token:     token,
		ExpiresAt: expiry.Unix(),
	})
}

// HealthCheck handles GET /health, pinging every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(ctx); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
