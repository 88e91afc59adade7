package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inboundr/art-framer-sub005/utils"
)

// CorrelationMiddleware threads a correlation id through the request so logs
// from the webhook path and the inline retry processor line up.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), correlationId))
		c.Writer.Header().Set("X-Correlation-Id", correlationId)
		c.Next()
	}
}
