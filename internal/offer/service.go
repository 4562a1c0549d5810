package offer

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/peertrade/internal/audit"
	"github.com/mbd888/peertrade/internal/idgen"
	"github.com/mbd888/peertrade/internal/money"
	"github.com/mbd888/peertrade/internal/pagination"
	"github.com/mbd888/peertrade/internal/syncutil"
	"github.com/mbd888/peertrade/internal/traces"
)

// Terms are the owner-tunable fields persisted by UpdateTerms. Total and
// available move only through GrowTotal/ShrinkTotal so a concurrent
// capacity consumption is never overwritten by a stale read.
type Terms struct {
	Price       string
	MinPerTrade string
	MaxPerTrade string
	Methods     []string
}

// Store persists offers.
type Store interface {
	Create(ctx context.Context, offer *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	// UpdateTerms writes only the terms columns; total and available are
	// untouched.
	UpdateTerms(ctx context.Context, id string, t Terms) error
	// GrowTotal atomically raises total and available by amount.
	GrowTotal(ctx context.Context, id, amount string) error
	// ShrinkTotal atomically lowers total and available by amount iff the
	// uncommitted capacity covers the reduction; otherwise
	// ErrInvalidAmountChange.
	ShrinkTotal(ctx context.Context, id, amount string) error
	// UpdateStatus compares-and-swaps the offer status. Returns
	// ErrConflict semantics via rows-affected: implementations return
	// ErrOfferNotFound when the offer is missing OR the status moved.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	// ConsumeCapacity atomically decrements available by amount iff the
	// offer is active and has at least that much capacity left.
	ConsumeCapacity(ctx context.Context, id, amount string) error
	// RestoreCapacity atomically increments available by amount unless the
	// offer is cancelled. Returns restored=false when the offer's
	// reservation is already released and the funds must go back to the
	// owner directly.
	RestoreCapacity(ctx context.Context, id, amount string) (restored bool, err error)
	AppendActivity(ctx context.Context, id string, rec ActivityRecord) error
	ListByOwner(ctx context.Context, ownerID string, limit int, cursor *pagination.Cursor) ([]*Offer, error)
}

// FundLocker is the slice of the ledger the offer service needs.
type FundLocker interface {
	Reserve(ctx context.Context, userID, asset, amount, reference string) error
	Release(ctx context.Context, userID, asset, amount, reference string) error
}

// TradeCounter reports how many non-terminal trades reference an offer.
type TradeCounter interface {
	CountOpenByOffer(ctx context.Context, offerID string) (int, error)
}

// Publisher broadcasts committed mutations, best-effort.
type Publisher interface {
	Publish(topic string, payload any)
}

// CreateRequest contains the parameters for creating an offer.
type CreateRequest struct {
	OwnerID      string   `json:"ownerId"`
	Direction    string   `json:"direction" binding:"required"`
	Asset        string   `json:"asset" binding:"required"`
	CounterAsset string   `json:"counterAsset" binding:"required"`
	Price        string   `json:"price" binding:"required"`
	Total        string   `json:"total" binding:"required"`
	MinPerTrade  string   `json:"minPerTrade" binding:"required"`
	MaxPerTrade  string   `json:"maxPerTrade" binding:"required"`
	Methods      []string `json:"methods"`
}

// UpdateRequest contains the owner-mutable fields. Empty fields are left
// unchanged.
type UpdateRequest struct {
	Price       string   `json:"price"`
	Total       string   `json:"total"`
	MinPerTrade string   `json:"minPerTrade"`
	MaxPerTrade string   `json:"maxPerTrade"`
	Methods     []string `json:"methods"`
}

// Service implements offer business logic.
type Service struct {
	store  Store
	funds  FundLocker
	trades TradeCounter
	trail  audit.Trail
	events Publisher
	locks  syncutil.ShardedMutex // per-offer locks
}

// NewService creates a new offer service.
func NewService(store Store, funds FundLocker, trail audit.Trail) *Service {
	return &Service{store: store, funds: funds, trail: trail}
}

// WithTradeCounter wires the trade-side lookup that blocks cancellation
// while open trades reference the offer.
func (s *Service) WithTradeCounter(tc TradeCounter) *Service {
	s.trades = tc
	return s
}

// WithPublisher adds a best-effort event broadcaster.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.events = p
	return s
}

func (s *Service) publish(topic string, payload any) {
	if s.events != nil {
		s.events.Publish(topic, payload)
	}
}

// Create validates the request and creates the offer. For a SELL offer the
// full total is reserved in the same call; a reservation failure aborts the
// create, and a create failure releases the reservation (compensation).
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.Create",
		traces.UserID(req.OwnerID), traces.Asset(req.Asset), traces.Amount(req.Total))
	var err error
	defer func() { traces.End(span, err) }()

	dir := Direction(req.Direction)
	if dir != DirectionBuy && dir != DirectionSell {
		err = fmt.Errorf("invalid direction %q", req.Direction)
		return nil, err
	}
	if err = validateBounds(req.Total, req.MinPerTrade, req.MaxPerTrade); err != nil {
		return nil, err
	}
	if _, ok := money.ParsePositive(req.Price); !ok {
		err = fmt.Errorf("%w: price must be positive", ErrInvalidBounds)
		return nil, err
	}

	now := time.Now()
	o := &Offer{
		ID:           idgen.WithPrefix("ofr_"),
		OwnerID:      req.OwnerID,
		Direction:    dir,
		Asset:        req.Asset,
		CounterAsset: req.CounterAsset,
		Price:        req.Price,
		Total:        req.Total,
		MinPerTrade:  req.MinPerTrade,
		MaxPerTrade:  req.MaxPerTrade,
		Available:    req.Total,
		Methods:      req.Methods,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if dir == DirectionSell {
		if err = s.funds.Reserve(ctx, o.OwnerID, o.Asset, o.Total, o.ID); err != nil {
			return nil, fmt.Errorf("failed to reserve offer funds: %w", err)
		}
	}

	if err = s.store.Create(ctx, o); err != nil {
		if dir == DirectionSell {
			// Compensate the reservation if persisting the offer fails
			_ = s.funds.Release(ctx, o.OwnerID, o.Asset, o.Total, o.ID)
		}
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	rec := ActivityRecord{Type: ActivityCreated, ActorID: req.OwnerID, NewStatus: StatusActive, At: now}
	o.Activity = append(o.Activity, rec)
	_ = s.store.AppendActivity(ctx, o.ID, rec)

	_ = audit.Record(ctx, s.trail, audit.EntityOffer, o.ID, "offer_created", nil, o, "")
	s.publish("offer.created", o)

	return o, nil
}

// Update applies owner-only field changes. Changing total upward reserves
// the delta; downward is rejected with ErrInvalidAmountChange if the
// remaining available capacity does not cover the reduction.
func (s *Service) Update(ctx context.Context, id, actorID string, req UpdateRequest) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.Update", traces.OfferID(id), traces.UserID(actorID))
	var err error
	defer func() { traces.End(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != actorID {
		err = ErrNotOwner
		return nil, err
	}
	if o.IsTerminal() {
		err = ErrOfferNotActive
		return nil, err
	}

	prev := *o

	terms := Terms{Price: o.Price, MinPerTrade: o.MinPerTrade, MaxPerTrade: o.MaxPerTrade, Methods: o.Methods}
	if req.Price != "" {
		if _, ok := money.ParsePositive(req.Price); !ok {
			err = fmt.Errorf("%w: price must be positive", ErrInvalidBounds)
			return nil, err
		}
		terms.Price = req.Price
	}
	if req.MinPerTrade != "" {
		terms.MinPerTrade = req.MinPerTrade
	}
	if req.MaxPerTrade != "" {
		terms.MaxPerTrade = req.MaxPerTrade
	}
	if req.Methods != nil {
		terms.Methods = req.Methods
	}

	newTotal := o.Total
	if req.Total != "" {
		if _, ok := money.ParsePositive(req.Total); !ok {
			err = fmt.Errorf("%w: total must be positive", ErrInvalidBounds)
			return nil, err
		}
		newTotal = req.Total
	}

	// Everything is validated before the first ledger or store write.
	if err = validateBounds(newTotal, terms.MinPerTrade, terms.MaxPerTrade); err != nil {
		return nil, err
	}

	if money.Cmp(newTotal, o.Total) != 0 {
		if err = s.applyTotalChange(ctx, o, newTotal); err != nil {
			return nil, err
		}
	}

	if err = s.store.UpdateTerms(ctx, id, terms); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}

	// Re-read: available may have moved under a concurrent trade.
	o, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := ActivityRecord{Type: ActivityUpdated, ActorID: actorID, At: o.UpdatedAt}
	o.Activity = append(o.Activity, rec)
	_ = s.store.AppendActivity(ctx, id, rec)

	_ = audit.Record(ctx, s.trail, audit.EntityOffer, id, "offer_updated", prev, o, "")
	s.publish("offer.updated", o)

	return o, nil
}

// applyTotalChange moves total and available through the store's atomic
// increments and keeps the SELL reservation in step. The caller holds the
// offer lock and has validated the new bounds.
func (s *Service) applyTotalChange(ctx context.Context, o *Offer, newTotal string) error {
	if money.Cmp(newTotal, o.Total) > 0 {
		// Raising total: reserve the delta first, then widen capacity.
		delta := money.Sub(newTotal, o.Total)
		if o.Direction == DirectionSell {
			if err := s.funds.Reserve(ctx, o.OwnerID, o.Asset, delta, o.ID); err != nil {
				return fmt.Errorf("failed to reserve additional funds: %w", err)
			}
		}
		if err := s.store.GrowTotal(ctx, o.ID, delta); err != nil {
			if o.Direction == DirectionSell {
				_ = s.funds.Release(ctx, o.OwnerID, o.Asset, delta, o.ID)
			}
			return err
		}
		return nil
	}

	// Lowering total: the conditional decrement refuses to cut into
	// capacity already committed to trades.
	reduction := money.Sub(o.Total, newTotal)
	if err := s.store.ShrinkTotal(ctx, o.ID, reduction); err != nil {
		return err
	}
	if o.Direction == DirectionSell {
		if err := s.funds.Release(ctx, o.OwnerID, o.Asset, reduction, o.ID); err != nil {
			// Grow the capacity back so reservation and total stay in step.
			_ = s.store.GrowTotal(ctx, o.ID, reduction)
			return fmt.Errorf("failed to release reduced reservation: %w", err)
		}
	}
	return nil
}

// cancelLocked moves the offer to cancelled and releases the remaining SELL
// reservation. The caller holds the offer lock; o is refreshed in place.
func (s *Service) cancelLocked(ctx context.Context, o *Offer) error {
	if s.trades != nil {
		open, err := s.trades.CountOpenByOffer(ctx, o.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrOfferHasActiveTrades
		}
	}

	prevStatus := o.Status
	if err := s.store.UpdateStatus(ctx, o.ID, prevStatus, StatusCancelled); err != nil {
		return err
	}

	// Re-read after the status flip: a trade may have consumed capacity
	// between our Get and the CAS. Once cancelled no further trade can.
	fresh, err := s.store.Get(ctx, o.ID)
	if err == nil {
		o.Available = fresh.Available
	}

	// Whatever capacity was not consumed by trades is still reserved for
	// this offer; give it back to the owner.
	if o.Direction == DirectionSell && !money.IsZero(o.Available) {
		if err := s.funds.Release(ctx, o.OwnerID, o.Asset, o.Available, o.ID); err != nil {
			// Roll the status back so funds are not stranded in reserve.
			if revertErr := s.store.UpdateStatus(ctx, o.ID, StatusCancelled, prevStatus); revertErr != nil {
				return fmt.Errorf("release failed and status revert failed (offer %s requires manual resolution): %w", o.ID, err)
			}
			return fmt.Errorf("failed to release offer reservation: %w", err)
		}
	}

	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// Delete cancels the offer and releases its remaining reservation. Fails
// with ErrOfferHasActiveTrades while any non-terminal trade references it.
func (s *Service) Delete(ctx context.Context, id, actorID string) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.Delete", traces.OfferID(id), traces.UserID(actorID))
	var err error
	defer func() { traces.End(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != actorID {
		err = ErrNotOwner
		return nil, err
	}
	if o.IsTerminal() {
		err = ErrOfferNotActive
		return nil, err
	}

	prevStatus := o.Status
	if err = s.cancelLocked(ctx, o); err != nil {
		return nil, err
	}

	rec := ActivityRecord{Type: ActivityCancelled, ActorID: actorID, PrevStatus: prevStatus, NewStatus: StatusCancelled, At: o.UpdatedAt}
	o.Activity = append(o.Activity, rec)
	_ = s.store.AppendActivity(ctx, id, rec)

	_ = audit.Record(ctx, s.trail, audit.EntityOffer, id, "offer_cancelled",
		map[string]any{"status": prevStatus}, map[string]any{"status": StatusCancelled}, "")
	s.publish("offer.cancelled", o)

	return o, nil
}

// SetStatus applies an owner or admin status transition per the transition
// table. Reactivating a cancelled SELL offer re-reserves its remaining
// capacity.
func (s *Service) SetStatus(ctx context.Context, id string, target Status, actorID string, isAdmin bool) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.SetStatus",
		traces.OfferID(id), traces.UserID(actorID), traces.Status(string(target)))
	var err error
	defer func() { traces.End(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.OwnerID != actorID {
		err = ErrNotOwner
		return nil, err
	}

	from := o.Status
	if from == target {
		return o, nil
	}
	if !CanTransition(from, target) {
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
		return nil, err
	}

	if target == StatusCancelled {
		// Cancelling hands the reservation back, same as Delete.
		if err = s.cancelLocked(ctx, o); err != nil {
			return nil, err
		}
	} else {
		// A cancelled offer released its reservation; bringing it back must
		// lock the funds again before it can take trades.
		if from == StatusCancelled && target == StatusActive &&
			o.Direction == DirectionSell && !money.IsZero(o.Available) {
			if err = s.funds.Reserve(ctx, o.OwnerID, o.Asset, o.Available, o.ID); err != nil {
				return nil, fmt.Errorf("failed to re-reserve offer funds: %w", err)
			}
		}

		if err = s.store.UpdateStatus(ctx, id, from, target); err != nil {
			if from == StatusCancelled && target == StatusActive &&
				o.Direction == DirectionSell && !money.IsZero(o.Available) {
				_ = s.funds.Release(ctx, o.OwnerID, o.Asset, o.Available, o.ID)
			}
			return nil, err
		}

		o.Status = target
		o.UpdatedAt = time.Now()
	}

	rec := ActivityRecord{Type: ActivityStatusChanged, ActorID: actorID, PrevStatus: from, NewStatus: target, At: o.UpdatedAt}
	o.Activity = append(o.Activity, rec)
	_ = s.store.AppendActivity(ctx, id, rec)

	_ = audit.Record(ctx, s.trail, audit.EntityOffer, id, "offer_status_changed",
		map[string]any{"status": from}, map[string]any{"status": target}, "")
	s.publish("offer.status_changed", o)

	return o, nil
}

// Get returns an offer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	return s.store.Get(ctx, id)
}

// ListByOwner returns one page of a user's offers, newest first. The cursor
// is an opaque position token from a previous page; empty means the start.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int, cursorStr string) ([]*Offer, string, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	cursor, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", false, err
	}

	offers, err := s.store.ListByOwner(ctx, ownerID, limit+1, cursor)
	if err != nil {
		return nil, "", false, err
	}

	page, next, hasMore := pagination.ComputePage(offers, limit, func(o *Offer) (time.Time, string) {
		return o.CreatedAt, o.ID
	})
	return page, next, hasMore, nil
}
