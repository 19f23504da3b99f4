package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/shared/id"
)

// RequestID assigns every request an id, keeping one sent by the caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = id.NewRequestID().String()
		}
		c.Set(HeaderRequestID, rid)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// Logger logs one line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", c.GetString(HeaderRequestID)),
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("Request failed", append(fields, zap.String("error", c.Errors.String()))...)
		case len(c.Errors) > 0:
			logger.Info("Request rejected", append(fields, zap.String("error", c.Errors.String()))...)
		default:
			logger.Debug("Request served", fields...)
		}
	}
}
