package rbac

import (
	"net/http"

	"outbound-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses the check; unknown roles are always denied.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok || !IsKnownRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireReader admits every role that may inspect calls and campaigns.
func RequireReader() gin.HandlerFunc { return RequireAnyRole(RoleOperator, RoleViewer) }

// RequireOperator admits roles that may place calls or control campaigns.
func RequireOperator() gin.HandlerFunc { return RequireAnyRole(RoleOperator) }
