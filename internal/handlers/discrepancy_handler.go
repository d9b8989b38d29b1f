package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/services"
)

type DiscrepancyHandler struct {
	discrepancyService *services.DiscrepancyService
}

func NewDiscrepancyHandler(discrepancyService *services.DiscrepancyService) *DiscrepancyHandler {
	return &DiscrepancyHandler{discrepancyService: discrepancyService}
}

// ResolveDiscrepancyRequest carries the resolution text
type ResolveDiscrepancyRequest struct {
	Resolution string `json:"resolution"`
}

func (h *DiscrepancyHandler) Index(c *gin.Context) {
	query := listQueryFrom(c, "asset_id", "movement_id", "status", "priority", "type")

	items, total, err := h.discrepancyService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"discrepancies": items,
		"pagination":    pagination(query, total),
	})
}

func (h *DiscrepancyHandler) Show(c *gin.Context) {
	id, ok := parseID(c, "discrepancy_id")
	if !ok {
		return
	}
	d, err := h.discrepancyService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancy": d})
}

// @Summary Open Discrepancy
// @Tags Discrepancies
// @Accept json
// @Produce json
// @Param discrepancy body services.DiscrepancyInput true "Discrepancy"
// @Success 201 {object} models.Discrepancy
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /discrepancies [post]
func (h *DiscrepancyHandler) Create(c *gin.Context) {
	var input services.DiscrepancyInput
	if !bindBody(c, "discrepancy", &input) {
		return
	}
	d, err := h.discrepancyService.Open(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"discrepancy": d})
}

func (h *DiscrepancyHandler) Start(c *gin.Context) {
	id, ok := parseID(c, "discrepancy_id")
	if !ok {
		return
	}
	d, err := h.discrepancyService.Start(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancy": d})
}

// @Summary Resolve Discrepancy
// @Description Resolving the asset's last active discrepancy clears its flag
// @Tags Discrepancies
// @Accept json
// @Produce json
// @Param discrepancy_id path int true "Discrepancy ID"
// @Param resolution body ResolveDiscrepancyRequest true "Resolution"
// @Success 200 {object} models.Discrepancy
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /discrepancies/{discrepancy_id}/resolve [post]
func (h *DiscrepancyHandler) Resolve(c *gin.Context) {
	id, ok := parseID(c, "discrepancy_id")
	if !ok {
		return
	}
	var req ResolveDiscrepancyRequest
	if !bindBody(c, "discrepancy", &req) {
		return
	}
	d, err := h.discrepancyService.Resolve(c.Request.Context(), id, actorFrom(c), req.Resolution)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancy": d})
}

func (h *DiscrepancyHandler) Close(c *gin.Context) {
	id, ok := parseID(c, "discrepancy_id")
	if !ok {
		return
	}
	d, err := h.discrepancyService.Close(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discrepancy": d})
}
