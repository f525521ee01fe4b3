package apperror

import (
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)

	// Detail is a developer-facing message, shown only outside production.
	Detail        string   `json:"-"`
	ValidEvents   []string `json:"-"`
	InvalidEvents []string `json:"-"`
	// RetryAfter is the number of seconds a rate-limited caller should wait.
	RetryAfter int64 `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns e with a developer-facing detail message.
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

// Validation returns a generic VAL_001 validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Webhook Subscriptions (WH) ----

func ErrInvalidWebhookURL() *AppError {
	return New("WH_001", "Webhook URL must be a valid absolute http(s) URL", http.StatusBadRequest)
}

func ErrWebhookURLTooLong(max int) *AppError {
	return New("WH_002", fmt.Sprintf("Webhook URL must not exceed %d characters", max), http.StatusBadRequest)
}

func ErrWebhookURLBlocked() *AppError {
	return New("WH_003", "Webhook URL cannot target private or internal addresses", http.StatusBadRequest)
}

func ErrWebhookHTTPSRequired() *AppError {
	return New("WH_004", "Webhook URL must use HTTPS", http.StatusBadRequest)
}

func ErrEventsRequired() *AppError {
	return New("WH_005", "At least one event type is required", http.StatusBadRequest)
}

// ErrInvalidEvents reports unsupported event tags. The tag lists are only
// rendered outside production.
func ErrInvalidEvents(invalid, valid []string) *AppError {
	e := New("WH_006", "One or more event types are not supported", http.StatusBadRequest)
	e.InvalidEvents = invalid
	e.ValidEvents = valid
	e.Detail = "Invalid event types: " + strings.Join(invalid, ", ")
	return e
}

func ErrInvalidWebhookHeaders(detail string) *AppError {
	return New("WH_007", "Webhook headers must be an object of string values with valid, non-reserved names", http.StatusBadRequest).
		WithDetail(detail)
}

// ---- Resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrPartnerSuspended() *AppError {
	return New("AUTH_004", "Partner account is suspended", http.StatusForbidden)
}

func ErrInvalidAdminToken() *AppError {
	return New("AUTH_005", "Invalid admin token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

// ErrRateLimitExceeded carries the number of seconds until the window resets.
func ErrRateLimitExceeded(retryAfter int64) *AppError {
	e := New("RATE_001", "Too many requests, please retry later", http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

// ---- Events (EVT) ----

func ErrDispatchQueueFull(err error) *AppError {
	return Wrap("EVT_001", "Event dispatch queue is full", http.StatusServiceUnavailable, err)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
