package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger writes one line per request. Probe traffic goes to debug, and a
// websocket upgrade is logged when the socket closes, with its lifetime.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if userID := c.GetString(ContextUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		switch {
		case status == http.StatusSwitchingProtocols:
			logger.Info("Websocket session ended", append(fields, zap.String("user_agent", c.Request.UserAgent()))...)
		case status >= 500:
			logger.Error("Server error", fields...)
		case status >= 400:
			logger.Warn("Client error", fields...)
		case isProbe(path):
			logger.Debug("Probe", fields...)
		default:
			logger.Info("Request completed", fields...)
		}
	}
}

func isProbe(path string) bool {
	return strings.HasSuffix(path, "/health") ||
		strings.HasSuffix(path, "/ready") ||
		strings.HasSuffix(path, "/metrics")
}
