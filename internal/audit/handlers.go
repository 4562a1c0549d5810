package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

var queryableEntities = map[string]bool{
	EntityOffer:   true,
	EntityTrade:   true,
	EntityDispute: true,
	EntityBalance: true,
}

// Handler exposes the audit trail read endpoint.
type Handler struct {
	trail  Trail
	logger *slog.Logger
}

// NewHandler creates a new audit handler
func NewHandler(trail Trail, logger *slog.Logger) *Handler {
	return &Handler{trail: trail, logger: logger}
}

// RegisterRoutes sets up audit routes. These are admin-only; the caller
// mounts them behind the admin middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/:entityType/:entityId", h.Query)
}

// Query handles GET /audit/:entityType/:entityId
func (h *Handler) Query(c *gin.Context) {
	entityType := c.Param("entityType")
	entityID := c.Param("entityId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	if !queryableEntities[entityType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entity_type", "message": "entityType must be one of offer, trade, dispute, balance"})
		return
	}

	entries, err := h.trail.Query(c.Request.Context(), entityType, entityID, limit)
	if err != nil {
		h.logger.Error("audit query failed", "error", err, "entityType", entityType, "entityId", entityID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "an unexpected error occurred"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
