package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// RequestLogger logs incoming HTTP requests using slog
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Skip logging for health check to avoid noise
		if path == "/health" || path == "/api/v1/health" {
			return
		}

		end := time.Now()
		latency := end.Sub(start)

		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		userAgent := c.Request.UserAgent()

		if raw != "" {
			path = path + "?" + raw
		}

		// Log attributes
		attrs := []any{
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", statusCode),
			slog.String("ip", clientIP),
			slog.Duration("latency", latency),
			slog.String("user_agent", userAgent),
		}

		// Add error message if present
		if errorMessage != "" {
			attrs = append(attrs, slog.String("error", errorMessage))
		}

		if route := c.FullPath(); route != "" {
			attrs = append(attrs, slog.String("route", route))
		}
		if actorID := GetActorID(c); actorID != "" {
			attrs = append(attrs, slog.String("actor_id", actorID), slog.String("role", GetActorRole(c)))
		}
		if requestID := GetRequestID(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}

		ctx := c.Request.Context()
		switch {
		case statusCode >= 500:
			logger.Log.ErrorContext(ctx, "request", attrs...)
		case statusCode >= 400:
			logger.Log.WarnContext(ctx, "request", attrs...)
		default:
			logger.Log.InfoContext(ctx, "request", attrs...)
		}
	}
}
