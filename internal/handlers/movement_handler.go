package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/services"
)

type MovementHandler struct {
	movementService *services.MovementService
}

func NewMovementHandler(movementService *services.MovementService) *MovementHandler {
	return &MovementHandler{movementService: movementService}
}

// RejectMovementRequest carries the rejection reason
type RejectMovementRequest struct {
	Reason string `json:"reason"`
}

// CompleteMovementRequest carries what the executor actually observed.
// observed_to is accepted as an alias of observed_location.
type CompleteMovementRequest struct {
	ObservedLocation  *models.LocationRef `json:"observed_location"`
	ObservedTo        *models.LocationRef `json:"observed_to"`
	ObservedCustodian *string             `json:"observed_custodian"`
}

// @Summary List Movements
// @Tags Movements
// @Produce json
// @Param asset_id query int false "Filter by asset"
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /movements [get]
func (h *MovementHandler) Index(c *gin.Context) {
	query := listQueryFrom(c, "asset_id", "status", "type", "requested_by")

	movements, total, err := h.movementService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"movements":  movements,
		"pagination": pagination(query, total),
	})
}

func (h *MovementHandler) Show(c *gin.Context) {
	id, ok := parseID(c, "movement_id")
	if !ok {
		return
	}
	movement, err := h.movementService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

// @Summary Request Movement
// @Description Creates a movement in requested state. Fails when the asset already has an open movement.
// @Tags Movements
// @Accept json
// @Produce json
// @Param movement body services.MovementInput true "Movement"
// @Success 201 {object} models.Movement
// @Failure 422 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /movements [post]
func (h *MovementHandler) Create(c *gin.Context) {
	var input services.MovementInput
	if !bindBody(c, "movement", &input) {
		return
	}
	movement, err := h.movementService.Request(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"movement": movement})
}

// @Summary Approve Movement
// @Tags Movements
// @Produce json
// @Param movement_id path int true "Movement ID"
// @Success 200 {object} models.Movement
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /movements/{movement_id}/approve [post]
func (h *MovementHandler) Approve(c *gin.Context) {
	id, ok := parseID(c, "movement_id")
	if !ok {
		return
	}
	movement, err := h.movementService.Approve(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

func (h *MovementHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "movement_id")
	if !ok {
		return
	}
	var req RejectMovementRequest
	if !bindBody(c, "movement", &req) {
		return
	}
	movement, err := h.movementService.Reject(c.Request.Context(), id, actorFrom(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

// @Summary Complete Movement
// @Description Applies the movement to the asset and reconciles the observed values in one transaction
// @Tags Movements
// @Accept json
// @Produce json
// @Param movement_id path int true "Movement ID"
// @Param observed body CompleteMovementRequest false "Observed destination"
// @Success 200 {object} models.Movement
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /movements/{movement_id}/complete [post]
func (h *MovementHandler) Complete(c *gin.Context) {
	id, ok := parseID(c, "movement_id")
	if !ok {
		return
	}
	var req CompleteMovementRequest
	if !bindBody(c, "movement", &req) {
		return
	}
	observed := services.Observation{Location: req.ObservedLocation, Custodian: req.ObservedCustodian}
	if observed.Location == nil {
		observed.Location = req.ObservedTo
	}

	movement, err := h.movementService.Complete(c.Request.Context(), id, actorFrom(c), observed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

func (h *MovementHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "movement_id")
	if !ok {
		return
	}
	movement, err := h.movementService.Cancel(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movement": movement})
}

func (h *MovementHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "movement_id")
	if !ok {
		return
	}
	if err := h.movementService.Delete(c.Request.Context(), id, actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "movement deleted"})
}
