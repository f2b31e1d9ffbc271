// Package handlers provides the admin and event-intake HTTP endpoints.
//
// This file defines the response helpers shared by all endpoints. Errors use
// ErrorResponse with a stable code; fail logs 5xx responses and refused
// callers through the request-scoped logger.
//
// Example error response:
//
//	HTTP/1.1 403 Forbidden
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "forbidden",
//	  "message": "only the operator may change the endpoint"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-bot/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty"`
	// Stable code from errors.go
	Code string `json:"code"`
	// Safe to show to users
	Message string `json:"message"`
}

// fail aborts with an ErrorResponse. Server errors are logged at error; a
// refused caller (401, 403) at warn so endpoint and impersonation attempts
// leave a trail.
func fail(c *gin.Context, status int, code, msg string) {
	lg := middleware.LoggerFrom(c)
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		lg.Warn().Int("status", status).Str("code", code).Str("caller", middleware.UserID(c)).Msg("caller refused")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
