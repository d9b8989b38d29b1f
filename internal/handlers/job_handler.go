package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/services"
)

type JobHandler struct {
	jobService *services.JobService
}

func NewJobHandler(jobSvc *services.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobSvc,
	}
}

// Status returns the current worker status
// @Summary Get background job status
// @Description Get statistics about background jobs (active, completed, failed, queue length)
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} jobs.WorkerStats
// @Router /jobs/status [get]
func (h *JobHandler) Status(c *gin.Context) {
	status := h.jobService.GetStatus()
	c.JSON(http.StatusOK, status)
}

// VerifyAudit queues a verification of every chain touched within the
// given window (hours, default 24).
// @Summary Queue audit chain verification
// @Tags Jobs
// @Produce json
// @Param hours query int false "Look-back window in hours" default(24)
// @Security BearerAuth
// @Success 202 {object} map[string]string
// @Router /jobs/verify_audit [post]
func (h *JobHandler) VerifyAudit(c *gin.Context) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		var err error
		if hours, err = parsePositive(raw); err != nil {
			respondError(c, services.ValidationError("hours", "must be a positive integer"))
			return
		}
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	h.jobService.Enqueue("audit-verify", func(ctx context.Context) error {
		return h.jobService.VerifyRecentAudit(ctx, since)
	})
	c.JSON(http.StatusAccepted, gin.H{"message": "audit verification queued", "since": since.UTC()})
}
