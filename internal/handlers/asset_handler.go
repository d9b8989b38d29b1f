package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/services"
)

type AssetHandler struct {
	assetService *services.AssetService
}

func NewAssetHandler(assetService *services.AssetService) *AssetHandler {
	return &AssetHandler{assetService: assetService}
}

// @Summary List Assets
// @Description Paginated list of live assets
// @Tags Assets
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param search_term query string false "Matches tag or name"
// @Param status query string false "Filter by status"
// @Param custodian query string false "Filter by custodian"
// @Param has_discrepancy query bool false "Filter by discrepancy flag"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /assets [get]
func (h *AssetHandler) Index(c *gin.Context) {
	query := listQueryFrom(c, "status", "custodian", "has_discrepancy")

	assets, total, err := h.assetService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]models.AssetResponse, 0, len(assets))
	for i := range assets {
		responses = append(responses, assets[i].ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"assets":     responses,
		"pagination": pagination(query, total),
	})
}

// @Summary Get Asset
// @Tags Assets
// @Produce json
// @Param asset_id path int true "Asset ID"
// @Success 200 {object} models.AssetResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /assets/{asset_id} [get]
func (h *AssetHandler) Show(c *gin.Context) {
	id, ok := parseID(c, "asset_id")
	if !ok {
		return
	}
	asset, err := h.assetService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset.ToResponse()})
}

// ShowByTag looks an asset up by its tag
func (h *AssetHandler) ShowByTag(c *gin.Context) {
	asset, err := h.assetService.FindByTag(c.Request.Context(), c.Param("asset_tag"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset.ToResponse()})
}

// @Summary Create Asset
// @Tags Assets
// @Accept json
// @Produce json
// @Param asset body services.AssetInput true "Asset"
// @Success 201 {object} models.AssetResponse
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /assets [post]
func (h *AssetHandler) Create(c *gin.Context) {
	var input services.AssetInput
	if !bindBody(c, "asset", &input) {
		return
	}
	asset, err := h.assetService.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": asset.ToResponse()})
}

// @Summary Update Asset
// @Description Direct edit. Location and custodian are refused while a movement is open.
// @Tags Assets
// @Accept json
// @Produce json
// @Param asset_id path int true "Asset ID"
// @Param asset body services.AssetUpdate true "Changes"
// @Success 200 {object} models.AssetResponse
// @Security BearerAuth
// @Router /assets/{asset_id} [patch]
func (h *AssetHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "asset_id")
	if !ok {
		return
	}
	var input services.AssetUpdate
	if !bindBody(c, "asset", &input) {
		return
	}
	asset, err := h.assetService.Update(c.Request.Context(), id, actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset.ToResponse()})
}

func (h *AssetHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "asset_id")
	if !ok {
		return
	}
	if err := h.assetService.Delete(c.Request.Context(), id, actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "asset deleted"})
}
