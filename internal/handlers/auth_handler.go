package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/middlewares"
	"sqlgateway/internal/responses"
	"sqlgateway/internal/utils"
)

// TokenRevoker records revoked access tokens by jti until they expire.
type TokenRevoker interface {
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error
}

type AuthHandler struct {
	revoker TokenRevoker
	log     *logger.Logger
}

func NewAuthHandler(revoker TokenRevoker, log *logger.Logger) *AuthHandler {
	return &AuthHandler{revoker: revoker, log: log}
}

// Logout revokes the bearer token of the request for the rest of its lifetime.
func (h *AuthHandler) Logout(c *gin.Context) {
	value, exists := c.Get(middlewares.ClaimsKey)
	claims, ok := value.(*utils.Claims)
	if !exists || !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	if claims.ID == "" {
		responses.Fail(c, http.StatusBadRequest, nil, "Token cannot be revoked")
		return
	}

	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}

	if err := h.revoker.Blacklist(c.Request.Context(), claims.ID, ttl); err != nil {
		h.log.ErrorContext(c.Request.Context(), "failed to revoke token", "error", err, "caller_id", claims.Subject)
		responses.Fail(c, http.StatusServiceUnavailable, nil, "Could not revoke token")
		return
	}

	responses.Success(c, http.StatusOK, nil, "Logged out successfully")
}
