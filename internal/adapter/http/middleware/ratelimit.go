package middleware

import (
	"fmt"
	"strconv"
	"time"

	"partner-webhooks/internal/core/ports"
	"partner-webhooks/internal/metrics"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Rate limit rule names.
const (
	RuleWebhookMutations = "webhooks"
	RuleToken            = "auth_token"
	RuleAdmin            = "admin"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateLimiter creates a rate-limiting middleware for rule. Authenticated
// partners are keyed by partner id, everyone else by client IP. Limiter
// errors let the request through.
func RateLimiter(limiter ports.RateLimiter, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", rule.Name, extractIdentifier(c))

		result, err := limiter.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("rule", rule.Name).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		// Always set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int64(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			metrics.RateLimitRejections.WithLabelValues(rule.Name).Inc()
			log.Warn().
				Str("rule", rule.Name).
				Str("key", key).
				Int64("retry_after", retryAfter).
				Msg("rate limit exceeded")

			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded(retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier determines the rate limit key source.
func extractIdentifier(c *gin.Context) string {
	if id, ok := PartnerID(c); ok {
		return id.String()
	}
	return c.ClientIP()
}
