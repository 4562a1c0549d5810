package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/peertrade/internal/validation"
)

// Handler provides HTTP endpoints for balance queries and deposits.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/balances/:asset", h.GetBalance)
	r.GET("/users/:id/history/:asset", h.GetHistory)
	r.POST("/users/:id/deposits", h.Deposit)
}

// GetBalance handles GET /users/:id/balances/:asset
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("id")
	asset := c.Param("asset")

	if errs := validation.Validate(
		validation.ValidUserID("id", userID),
		validation.ValidAsset("asset", asset),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "details": errs})
		return
	}

	b, err := h.ledger.GetBalance(c.Request.Context(), userID, asset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetHistory handles GET /users/:id/history/:asset
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("id")
	asset := c.Param("asset")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.GetHistory(c.Request.Context(), userID, asset, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type depositRequest struct {
	Asset     string `json:"asset" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// Deposit handles POST /users/:id/deposits
func (h *Handler) Deposit(c *gin.Context) {
	userID := c.Param("id")

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("id", userID),
		validation.ValidAsset("asset", req.Asset),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "details": errs})
		return
	}

	if err := h.ledger.Deposit(c.Request.Context(), userID, req.Asset, req.Amount, req.Reference); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			c.JSON(http.StatusOK, gin.H{"status": "already_processed", "reference": req.Reference})
			return
		}
		h.writeError(c, err)
		return
	}

	b, err := h.ledger.GetBalance(c.Request.Context(), userID, req.Asset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrInsufficientFunds):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_funds", "message": err.Error()})
	default:
		h.logger.Error("ledger handler error", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "an unexpected error occurred"})
	}
}
