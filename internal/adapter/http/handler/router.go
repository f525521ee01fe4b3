package handler

import (
	"partner-webhooks/internal/adapter/http/middleware"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxRequestBody bounds every request body.
const maxRequestBody = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PartnerSvc         ports.PartnerService
	WebhookSvc         ports.WebhookService
	Publisher          ports.EventPublisher
	TokenSvc           ports.TokenService
	RateLimiter        ports.RateLimiter // nil = rate limiting disabled
	Rules              map[string]middleware.RateLimitRule
	HealthCheckers     []ports.HealthChecker
	AuditSvc           ports.AuditService // nil = audit logging disabled
	AdminToken         string
	ExposeErrorDetails bool
	MetricsEnabled     bool
	Logger             zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Environment(deps.ExposeErrorDetails))
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.MetricsEnabled {
		r.Use(middleware.Metrics())
	}
	r.Use(middleware.MaxBodySize(maxRequestBody))

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Helper: return rate limiter middleware if a limiter is configured, else noop.
	rl := func(name string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := deps.Rules[name]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.PartnerSvc)
	v1.POST("/auth/token", rl(middleware.RuleToken), authHandler.IssueToken)

	// --- Admin routes (shared admin token), not mounted without a token ---
	partnerHandler := NewPartnerHandler(deps.PartnerSvc)
	if deps.AdminToken != "" {
		eventHandler := NewEventHandler(deps.Publisher)
		admin := v1.Group("/admin", rl(middleware.RuleAdmin), middleware.AdminAuth(deps.AdminToken))
		{
			admin.POST("/partners", partnerHandler.Register)
			admin.POST("/events", eventHandler.Ingest)
		}
	}

	// --- JWT-authenticated routes (partner API) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	partners := v1.Group("/partners/me", jwtAuth)
	{
		partners.GET("", partnerHandler.GetProfile)
		partners.POST("/api-keys", rl(middleware.RuleToken), partnerHandler.RotateAPIKey)
	}

	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	webhooks := v1.Group("/webhooks", jwtAuth)
	{
		webhooks.GET("/events", webhookHandler.ListEventTypes)
		webhooks.POST("", rl(middleware.RuleWebhookMutations), webhookHandler.Create)
		webhooks.GET("", webhookHandler.List)
		webhooks.GET("/:id", webhookHandler.Get)
		webhooks.PATCH("/:id", rl(middleware.RuleWebhookMutations), webhookHandler.Update)
		webhooks.DELETE("/:id", rl(middleware.RuleWebhookMutations), webhookHandler.Delete)
		webhooks.GET("/:id/deliveries", webhookHandler.ListDeliveries)
	}

	return r
}
