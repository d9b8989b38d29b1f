package handlers

import (
	"errors"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/middleware"
	"github.com/sjperalta/custodia-api/internal/services"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// statusFor maps an error kind to its HTTP status
func statusFor(kind error) int {
	switch kind {
	case services.ErrValidation:
		return http.StatusUnprocessableEntity
	case services.ErrInvalidState, services.ErrConflict:
		return http.StatusConflict
	case services.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

// respondError writes the error kind and the violated rule. Persistence
// failures also go to Sentry.
func respondError(c *gin.Context, err error) {
	var domainErr *services.Error
	if !errors.As(err, &domainErr) {
		domainErr = services.PersistenceError("unexpected failure", err)
	}

	status := statusFor(domainErr.Kind)
	body := gin.H{
		"error":   domainErr.Kind.Error(),
		"message": domainErr.Reason,
	}
	if domainErr.Field != "" {
		body["field"] = domainErr.Field
	}
	if domainErr.Retryable() {
		body["retryable"] = true
	}

	if status >= http.StatusInternalServerError {
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
		logger.Log.ErrorContext(c.Request.Context(), "request failed",
			"path", c.FullPath(),
			"request_id", middleware.GetRequestID(c),
			"error", err)
	}

	c.AbortWithStatusJSON(status, body)
}

// respondMalformed reports a body that could not be decoded
func respondMalformed(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   services.ErrValidation.Error(),
		"message": "malformed request body: " + err.Error(),
	})
}
