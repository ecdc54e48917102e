package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realtime-service/internal/metrics"
)

// Recovery turns a handler panic into a 500 and counts it under the
// "http" step. m may be nil.
func Recovery(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			m.HandlerPanicked("http")
			logger.Error("Recovered panic in HTTP handler",
				zap.Any("panic", r),
				zap.String("route", c.FullPath()),
				zap.String("method", c.Request.Method),
				zap.Stack("stacktrace"))

			// An upgraded websocket has no HTTP response left to write.
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Internal server error",
				},
			})
		}()

		c.Next()
	}
}
