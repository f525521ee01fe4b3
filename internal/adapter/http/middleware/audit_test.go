package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAuditLog_WebhookUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	partnerID := uuid.New()
	subID := uuid.New()

	var got *domain.AuditLog
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		got = log
	})

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.PATCH("/api/v1/webhooks/:id", func(c *gin.Context) {
		c.Set(CtxPartnerID, partnerID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/webhooks/"+subID.String(), nil)
	req.Header.Set("User-Agent", "partner-sdk/2.1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, domain.AuditActionUpdateWebhook, got.Action)
	assert.Equal(t, "webhook", got.ResourceType)
	assert.Equal(t, subID.String(), got.ResourceID)
	require.NotNil(t, got.PartnerID)
	assert.Equal(t, partnerID, *got.PartnerID)
	assert.Equal(t, "partner-sdk/2.1", got.UserAgent)
	assert.Contains(t, got.Details, `"status":200`)
}

func TestAuditLog_CreateUsesHandlerResourceID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	newID := uuid.New().String()

	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionCreateWebhook, log.Action)
		assert.Equal(t, newID, log.ResourceID)
	})

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/webhooks", func(c *gin.Context) {
		c.Set(CtxAuditResourceID, newID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditLog_TokenIssuanceUsesAuditPartner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	partnerID := uuid.New()

	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionIssueToken, log.Action)
		require.NotNil(t, log.PartnerID)
		assert.Equal(t, partnerID, *log.PartnerID)
	})

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/auth/token", func(c *gin.Context) {
		c.Set(CtxAuditPartnerID, partnerID)
		c.JSON(http.StatusOK, gin.H{"token": "x"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil))
}

func TestAuditLog_SkipsGET(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	// No expectations - Log should NOT be called for GET

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.GET("/api/v1/webhooks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditLog_SkipsFailedRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/webhooks", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": "WH_003"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditLog_SkipsUnmappedRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/unknown", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMapRouteToAction(t *testing.T) {
	tests := []struct {
		route, method string
		want          domain.AuditAction
	}{
		{"/api/v1/admin/partners", http.MethodPost, domain.AuditActionRegisterPartner},
		{"/api/v1/partners/me/api-keys", http.MethodPost, domain.AuditActionRotateAPIKeys},
		{"/api/v1/webhooks/:id", http.MethodDelete, domain.AuditActionDeleteWebhook},
		{"/api/v1/admin/events", http.MethodPost, domain.AuditActionIngestEvent},
		{"/api/v1/webhooks/:id", http.MethodPut, ""},
	}
	for _, tt := range tests {
		action, _ := mapRouteToAction(tt.route, tt.method)
		assert.Equal(t, tt.want, action, "%s %s", tt.method, tt.route)
	}
}
