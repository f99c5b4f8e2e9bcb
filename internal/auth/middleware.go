package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// RequireAccessToken verifies an access token and injects the caller's Identity into the
// request context. The request logger gains user_id so audit-relevant lines carry the actor.
// Role checks belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
		switch {
		case errors.Is(err, ErrTokenType):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token required"})
			return
		case err != nil:
			logger.FromGin(c).Debug("bearer token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := Identity{UserID: claims.UserID, Role: claims.Role}
		reqLogger := logger.FromGin(c).With("user_id", id.UserID)
		c.Set("logger", reqLogger)
		ctx := logger.With(c.Request.Context(), reqLogger)
		c.Request = c.Request.WithContext(WithIdentity(ctx, id))
		c.Next()
	}
}
