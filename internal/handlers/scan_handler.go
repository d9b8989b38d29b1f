package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/services"
)

type ScanHandler struct {
	reconciliationService *services.ReconciliationService
}

func NewScanHandler(reconciliationService *services.ReconciliationService) *ScanHandler {
	return &ScanHandler{reconciliationService: reconciliationService}
}

// @Summary Record Scan
// @Description Records an asset scan and opens discrepancies for observed differences. Repeating a scan opens nothing new.
// @Tags Scans
// @Accept json
// @Produce json
// @Param scan body services.ScanInput true "Scan event"
// @Success 200 {object} services.ScanResult
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /scans [post]
func (h *ScanHandler) Create(c *gin.Context) {
	var input services.ScanInput
	if !bindBody(c, "scan", &input) {
		return
	}
	result, err := h.reconciliationService.ProcessScan(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":         result.Asset.ToResponse(),
		"in_sync":       result.InSync,
		"opened":        result.Opened,
		"existing_open": result.Existing,
	})
}
