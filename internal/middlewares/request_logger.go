package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"sqlgateway/internal/logger"
)

// RequestLogger logs one line per request, at a level chosen by status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		}
		if caller := c.GetString(CallerIDKey); caller != "" {
			args = append(args, "caller_id", caller)
		}

		switch {
		case status >= 500:
			log.Logger.Error("http request", args...)
		case status >= 400:
			log.Warn("http request", args...)
		default:
			log.Info("http request", args...)
		}
	}
}
