package trade

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/peertrade/internal/auth"
	"github.com/mbd888/peertrade/internal/offer"
	"github.com/mbd888/peertrade/internal/retry"
	"github.com/mbd888/peertrade/internal/validation"
)

// Handler provides HTTP endpoints for trade operations
type Handler struct {
	service *Service
	authz   auth.Authorizer
	logger  *slog.Logger
}

// NewHandler creates a new trade handler
func NewHandler(service *Service, authz auth.Authorizer, logger *slog.Logger) *Handler {
	return &Handler{service: service, authz: authz, logger: logger}
}

// RegisterRoutes sets up trade routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/trades", h.Create)
	r.GET("/trades/:id", h.Get)
	r.GET("/users/:id/trades", h.ListByUser)
	r.POST("/trades/:id/payment-sent", h.MarkPaymentSent)
	r.POST("/trades/:id/release", h.Release)
	r.POST("/trades/:id/cancel", h.Cancel)
	r.POST("/trades/:id/dispute", h.RaiseDispute)
	r.GET("/disputes/:id", h.GetDispute)
}

// RegisterAdminRoutes sets up admin-only trade routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
	r.POST("/admin/sweep", h.Sweep)
}

// Create handles POST /trades
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		OfferID string `json:"offerId" binding:"required"`
		Amount  string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if errs := validation.Validate(validation.ValidAmount("amount", req.Amount)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "details": errs})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req.OfferID, auth.UserID(c), req.Amount)
	if err != nil {
		if errors.Is(err, ErrEscrowHoldFailed) && t != nil {
			// The trade exists but the hold did not stick; it will be
			// reclaimed by the sweeper unless funded before the deadline.
			c.JSON(http.StatusConflict, gin.H{
				"error": "escrow_hold_failed", "message": err.Error(), "trade": t,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// Get handles GET /trades/:id
func (h *Handler) Get(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ListByUser handles GET /users/:id/trades
func (h *Handler) ListByUser(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// withConflictRetry re-runs fn while it loses CAS races against concurrent
// writers on the same trade. A later attempt sees the fresh state and either
// succeeds or fails with a definitive error.
func (h *Handler) withConflictRetry(c *gin.Context, fn func() (*Trade, error)) (*Trade, error) {
	var t *Trade
	err := retry.OnConflict(c.Request.Context(), 3, 25*time.Millisecond,
		func(err error) bool { return errors.Is(err, ErrConcurrentModification) },
		func() error {
			var err error
			t, err = fn()
			return err
		})
	return t, err
}

// MarkPaymentSent handles POST /trades/:id/payment-sent
func (h *Handler) MarkPaymentSent(c *gin.Context) {
	t, err := h.withConflictRetry(c, func() (*Trade, error) {
		return h.service.MarkPaymentSent(c.Request.Context(), c.Param("id"), auth.UserID(c))
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Release handles POST /trades/:id/release
func (h *Handler) Release(c *gin.Context) {
	t, err := h.withConflictRetry(c, func() (*Trade, error) {
		return h.service.ConfirmReceiptAndRelease(c.Request.Context(),
			c.Param("id"), auth.UserID(c), auth.IsAdmin(c))
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Cancel handles POST /trades/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	t, err := h.withConflictRetry(c, func() (*Trade, error) {
		return h.service.Cancel(c.Request.Context(), c.Param("id"),
			auth.UserID(c), auth.IsAdmin(c))
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// RaiseDispute handles POST /trades/:id/dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	d, err := h.service.RaiseDispute(c.Request.Context(), c.Param("id"),
		auth.UserID(c), validation.SanitizeString(req.Reason, 2000))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GetDispute handles GET /disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.GetDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ResolveDispute handles POST /disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req struct {
		Resolution string `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	d, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"),
		req.Resolution, auth.ActorFrom(c), h.authz)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Sweep handles POST /admin/sweep, an on-demand run of the timeout sweep.
func (h *Handler) Sweep(c *gin.Context) {
	res, err := h.service.RunTimeoutSweep(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var te *TransitionError
	switch {
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "invalid_state_transition",
			"message":   te.Error(),
			"current":   te.Current,
			"requested": te.Requested,
		})
	case errors.Is(err, ErrTradeNotFound), errors.Is(err, ErrDisputeNotFound),
		errors.Is(err, offer.ErrOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_modification", "message": err.Error()})
	case errors.Is(err, ErrDisputeAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "dispute_already_resolved", "message": err.Error()})
	case errors.Is(err, ErrDisputeNotAllowed):
		c.JSON(http.StatusConflict, gin.H{"error": "dispute_not_allowed", "message": err.Error()})
	case errors.Is(err, ErrAmountOutOfBounds), errors.Is(err, ErrInvalidResolution),
		errors.Is(err, offer.ErrInvalidBounds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, offer.ErrInsufficientCapacity), errors.Is(err, offer.ErrOfferNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_capacity", "message": err.Error()})
	default:
		h.logger.Error("trade operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Operation failed"})
	}
}
