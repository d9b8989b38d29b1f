package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// @Summary Health Check
// @Description Checks that the API is running and the store answers
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Index(c *gin.Context) {
	status := http.StatusOK
	store := "ok"
	if err := h.ping(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		store = "unavailable"
	}
	c.JSON(status, gin.H{
		"status":  http.StatusText(status),
		"store":   store,
		"service": "custodia-api",
		"version": "1.0.0",
	})
}

func (h *HealthHandler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
