package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/middlewares"
	"sqlgateway/internal/responses"
	"sqlgateway/internal/services"
)

// statusFor maps a gateway error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrQueryRejected), errors.Is(err, services.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStaleTarget):
		return http.StatusGone
	case errors.Is(err, services.ErrConnectionUnreachable), errors.Is(err, services.ErrHandleAcquisitionFailed):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrExecutionFailed):
		if services.Reason(err) == "timeout" {
			return http.StatusGatewayTimeout
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an API error. Errors without a gateway kind are logged
// and reported without detail.
func fail(c *gin.Context, log *logger.Logger, err error, message string) {
	var ge *services.GatewayError
	if errors.As(err, &ge) {
		responses.Fail(c, statusFor(err), err, message)
		return
	}

	log.ErrorContext(c.Request.Context(), message, "error", err, "path", c.FullPath())
	responses.Fail(c, http.StatusInternalServerError, nil, message)
}

func callerID(c *gin.Context) (string, bool) {
	id := c.GetString(middlewares.CallerIDKey)
	return id, id != ""
}
