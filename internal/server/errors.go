package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/postloop/postloop/internal/connectstate/domain"
	"github.com/postloop/postloop/internal/platform"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrRateLimited    = errors.New("rate_limited")
	ErrProviderDenied = errors.New("provider_denied")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError translates domain sentinels into user-facing statuses. Every
// verification failure gets its own shape so clients can distinguish
// "start over" from "someone may be replaying your callback".
func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, domain.ErrInvalidWorkspace),
		errors.Is(err, domain.ErrInvalidPlatform),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, platform.ErrUnknownPlatform):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "invalid request",
		}
	case errors.Is(err, domain.ErrStateNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "state_not_found",
			Message: "connection request not recognized, please start over",
		}
	case errors.Is(err, domain.ErrStateAlreadyUsed),
		errors.Is(err, domain.ErrDuplicateState):
		return http.StatusConflict, errorPayload{
			Type:    "state_already_used",
			Message: "this connection request was already completed",
		}
	case errors.Is(err, domain.ErrStateExpired):
		return http.StatusGone, errorPayload{
			Type:    "state_expired",
			Message: "connection request expired, please retry the connection",
		}
	case errors.Is(err, ErrProviderDenied):
		return http.StatusBadRequest, errorPayload{
			Type:    "provider_denied",
			Message: "the platform declined the authorization",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many connection attempts, slow down",
		}
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := ""
	if err != nil {
		code = err.Error()
	}
	return payload.Type, code
}
