package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/services"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// queryAlias reads a query parameter under its snake_case or camelCase name
func queryAlias(c *gin.Context, names ...string) string {
	for _, name := range names {
		if v := c.Query(name); v != "" {
			return v
		}
	}
	return ""
}

func entityFrom(c *gin.Context) (string, uint, bool) {
	entityType := queryAlias(c, "entity_type", "entityType")
	raw := queryAlias(c, "entity_id", "entityId")
	if raw == "" {
		return entityType, 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		respondError(c, services.ValidationError("entity_id", "must be a positive integer"))
		return "", 0, false
	}
	return entityType, uint(id), true
}

// @Summary Query Audit Ledger
// @Description Reverse-chronological entries for an entity or an actor. Pass next_cursor back as cursor for the next page.
// @Tags Audit
// @Produce json
// @Param entity_type query string false "Asset, Movement, Discrepancy or Session"
// @Param entity_id query int false "Entity ID"
// @Param actor_id query string false "Actor ID"
// @Param cursor query string false "Cursor from the previous page"
// @Param limit query int false "Page size" default(50)
// @Success 200 {object} services.AuditPage
// @Security BearerAuth
// @Router /audit [get]
func (h *AuditHandler) Index(c *gin.Context) {
	entityType, entityID, ok := entityFrom(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	page, err := h.auditService.Page(c.Request.Context(), services.AuditQuery{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    queryAlias(c, "actor_id", "actorId"),
		Cursor:     c.Query("cursor"),
		Limit:      limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Verify recomputes one entity's hash chain
func (h *AuditHandler) Verify(c *gin.Context) {
	entityType, entityID, ok := entityFrom(c)
	if !ok {
		return
	}
	if entityID == 0 && entityType != models.EntitySession {
		respondError(c, services.ValidationError("entity_id", "is required"))
		return
	}
	report, err := h.auditService.VerifyChain(c.Request.Context(), entityType, entityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// SessionRequest is a login or logout reported by the identity provider
type SessionRequest struct {
	Action string `json:"action"`
}

// @Summary Record Session Event
// @Description Appends a Login or Logout for the calling actor to the session ledger
// @Tags Audit
// @Accept json
// @Produce json
// @Param session body SessionRequest true "Login or Logout"
// @Success 201 {object} models.AuditEntry
// @Security BearerAuth
// @Router /audit/sessions [post]
func (h *AuditHandler) RecordSession(c *gin.Context) {
	var req SessionRequest
	if !bindBody(c, "session", &req) {
		return
	}
	entry, err := h.auditService.RecordSession(c.Request.Context(), actorFrom(c), req.Action)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}
