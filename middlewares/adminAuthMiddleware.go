package middlewares

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/inboundr/art-framer-sub005/utils"
)

// AdminAuthMiddleware guards the operator endpoints. The presented key is
// compared against a bcrypt hash from the environment so the plaintext key
// never lives in config. X-Admin-Actor is recorded for the audit trail.
func AdminAuthMiddleware() gin.HandlerFunc {
	hash := os.Getenv("ADMIN_API_KEY_HASH")

	return func(c *gin.Context) {
		if hash == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin surface not configured"})
			c.Abort()
			return
		}

		key := c.GetHeader("X-Admin-Key")
		if key == "" || utils.CompareAdminKey(hash, key) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		actor := c.GetHeader("X-Admin-Actor")
		if actor == "" {
			actor = "unknown"
		}
		c.Request = c.Request.WithContext(utils.SetAdminActorInContext(c.Request.Context(), actor))
		c.Next()
	}
}
