package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"edu-knowledge-platform/internal/errs"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithForbidden sends a 403 Forbidden error
func RespondWithForbidden(c *gin.Context, message string) {
	RespondWithError(c, http.StatusForbidden, "forbidden", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}


// RespondWithServiceError maps domain errors onto HTTP responses: missing
// resources become 404, provider timeouts 504, transient backend failures
// 503, anything else 500.
func RespondWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		RespondWithNotFound(c, "resource not found")
	case errs.IsTimeout(err):
		RespondWithError(c, http.StatusGatewayTimeout, "timeout", "Upstream provider timed out", nil)
	case errs.IsTransient(err):
		RespondWithError(c, http.StatusServiceUnavailable, "service_unavailable", "Backend temporarily unavailable", nil)
	default:
		RespondWithInternalError(c, "Internal server error", nil)
	}
}
