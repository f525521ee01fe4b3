package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"partner-webhooks/pkg/ssrf"
)

// RetryPolicy is the webhook redelivery schedule.
//
// delay(n) = min(BaseDelay * Multiplier^(n-1), MaxDelay), where n is the
// number of attempts already made. With defaults:
//
//	Attempt 1: immediate
//	Attempt 2: after 2s
//	Attempt 3: after 4s
//	Attempt 4: after 8s
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Cap on any single delay
	Multiplier  float64       // Backoff factor
}

// DefaultRetryPolicy returns 1 attempt plus 3 retries with 2s doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2.0,
	}
}

// Delay returns the wait before the attempt that follows attempt number
// attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.capped(p.BaseDelay)
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p RetryPolicy) capped(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// HasAttemptsLeft reports whether another attempt is allowed after attempt.
func (p RetryPolicy) HasAttemptsLeft(attempt int) bool {
	return attempt < p.MaxAttempts
}

// IsRetryableStatus reports whether an HTTP status warrants redelivery.
// Other non-2xx statuses are final: the receiver rejected the payload.
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// IsRetryableError reports whether a transport error warrants redelivery.
// Guard rejections at dial or redirect time and caller cancellation are final.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !isGuardRejection(err)
}

func isGuardRejection(err error) bool {
	for _, target := range []error{
		ssrf.ErrBlockedHost,
		ssrf.ErrBlockedAddress,
		ssrf.ErrInvalidURL,
		ssrf.ErrHTTPSRequired,
		ssrf.ErrUnsupportedScheme,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
