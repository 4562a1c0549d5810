package offer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/peertrade/internal/auth"
	"github.com/mbd888/peertrade/internal/pagination"
	"github.com/mbd888/peertrade/internal/validation"
)

// Handler provides HTTP endpoints for offer operations
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new offer handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up offer routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/offers", h.Create)
	r.GET("/offers/:id", h.Get)
	r.PATCH("/offers/:id", h.Update)
	r.DELETE("/offers/:id", h.Delete)
	r.POST("/offers/:id/status", h.SetStatus)
	r.GET("/users/:id/offers", h.ListByOwner)
}

// Create handles POST /offers
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	req.OwnerID = auth.UserID(c)

	if errs := validation.Validate(
		validation.ValidUserID("ownerId", req.OwnerID),
		validation.ValidAsset("asset", req.Asset),
		validation.ValidAsset("counterAsset", req.CounterAsset),
		validation.ValidAmount("total", req.Total),
		validation.ValidAmount("price", req.Price),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "details": errs})
		return
	}

	o, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// Get handles GET /offers/:id
func (h *Handler) Get(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Update handles PATCH /offers/:id
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	o, err := h.service.Update(c.Request.Context(), c.Param("id"), auth.UserID(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Delete handles DELETE /offers/:id
func (h *Handler) Delete(c *gin.Context) {
	o, err := h.service.Delete(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// SetStatus handles POST /offers/:id/status
func (h *Handler) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	o, err := h.service.SetStatus(c.Request.Context(), c.Param("id"),
		Status(req.Status), auth.UserID(c), auth.IsAdmin(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListByOwner handles GET /users/:id/offers
func (h *Handler) ListByOwner(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offers, next, hasMore, err := h.service.ListByOwner(c.Request.Context(), c.Param("id"), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"offers":     offers,
		"count":      len(offers),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "offer_not_found", "message": err.Error()})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner", "message": err.Error()})
	case errors.Is(err, ErrOfferHasActiveTrades):
		c.JSON(http.StatusConflict, gin.H{"error": "offer_has_active_trades", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmountChange), errors.Is(err, ErrInvalidBounds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrOfferNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "offer_not_active", "message": err.Error()})
	default:
		h.logger.Error("offer operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Operation failed"})
	}
}
