package delivery

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// InternalKeyHeader carries the shared secret for service-to-service routes.
const InternalKeyHeader = "X-Internal-Key"

func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// InternalKeyMiddleware admits only callers presenting key. An empty key closes the routes.
func InternalKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "internal API disabled"})
			c.Abort()
			return
		}

		got := c.GetHeader(InternalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid internal key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
