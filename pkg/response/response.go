package response

import (
	"errors"
	"net/http"
	"time"

	"partner-webhooks/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CtxExposeErrorDetails is the gin context key that enables developer-facing
// error detail. It is set by the environment middleware outside production.
const CtxExposeErrorDetails = "expose_error_details"

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode     string   `json:"error_code"`
	Message       string   `json:"message"`
	RequestID     string   `json:"request_id"`
	Timestamp     string   `json:"timestamp"`
	Detail        string   `json:"detail,omitempty"`
	ValidEvents   []string `json:"valid_events,omitempty"`
	InvalidEvents []string `json:"invalid_events,omitempty"`
	RetryAfter    int64    `json:"retry_after,omitempty"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Accepted sends a 202 response with data.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, SuccessResponse{
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Error sends an error response. It checks if err is an *apperror.AppError
// and maps it accordingly, otherwise returns 500. Detail, event lists and
// wrapped error text are only rendered when the request allows it.
//
// Server errors are attached to c.Errors with their full cause so the
// request logger records what the client never sees.
func Error(c *gin.Context, err error) {
	expose := c.GetBool(CtxExposeErrorDetails)

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp := ErrorResponse{
			ErrorCode:  appErr.Code,
			Message:    appErr.Message,
			RequestID:  getRequestID(c),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			RetryAfter: appErr.RetryAfter,
		}
		if expose {
			resp.Detail = appErr.Detail
			if resp.Detail == "" && appErr.Err != nil {
				resp.Detail = appErr.Err.Error()
			}
			resp.ValidEvents = appErr.ValidEvents
			resp.InvalidEvents = appErr.InvalidEvents
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.JSON(appErr.HTTPStatus, resp)
		return
	}

	// Unknown error -> 500
	resp := ErrorResponse{
		ErrorCode: "SYS_000",
		Message:   "Internal server error",
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		_ = c.Error(err)
		if expose {
			resp.Detail = err.Error()
		}
	}
	c.JSON(http.StatusInternalServerError, resp)
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
