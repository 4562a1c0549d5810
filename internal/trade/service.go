package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/peertrade/internal/audit"
	"github.com/mbd888/peertrade/internal/idgen"
	"github.com/mbd888/peertrade/internal/ledger"
	"github.com/mbd888/peertrade/internal/money"
	"github.com/mbd888/peertrade/internal/offer"
	"github.com/mbd888/peertrade/internal/syncutil"
	"github.com/mbd888/peertrade/internal/traces"
)

// Offers is the slice of the offer store the trade service needs.
// offer.Store satisfies it.
type Offers interface {
	Get(ctx context.Context, id string) (*offer.Offer, error)
	ConsumeCapacity(ctx context.Context, id, amount string) error
	RestoreCapacity(ctx context.Context, id, amount string) (restored bool, err error)
}

// Funds is the slice of the ledger the trade service needs.
// ledger.Ledger satisfies it.
type Funds interface {
	Reserve(ctx context.Context, userID, asset, amount, reference string) error
	Release(ctx context.Context, userID, asset, amount, reference string) error
	Transfer(ctx context.Context, fromUserID, toUserID, asset, amount, reference string) error
	RecordHold(ctx context.Context, userID, asset, amount, tradeID string) error
	RecordHoldUnwind(ctx context.Context, userID, asset, amount, tradeID string) error
}

// Publisher broadcasts committed transitions, best-effort.
type Publisher interface {
	Publish(topic string, payload any)
}

// Config holds the trade timing windows.
type Config struct {
	PaymentWindow time.Duration // deadline for the buyer to send payment
	TradeTTL      time.Duration // hard expiry for the whole trade
}

// Service implements the trade state machine.
type Service struct {
	store  Store
	offers Offers
	funds  Funds
	trail  audit.Trail
	events Publisher
	cfg    Config
	logger *slog.Logger
	locks  *syncutil.ContextShardedMutex // per-trade locks
}

// NewService creates a new trade service.
func NewService(store Store, offers Offers, funds Funds, trail audit.Trail, cfg Config, logger *slog.Logger) *Service {
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 30 * time.Minute
	}
	if cfg.TradeTTL <= 0 {
		cfg.TradeTTL = 2 * time.Hour
	}
	return &Service{
		store:  store,
		offers: offers,
		funds:  funds,
		trail:  trail,
		cfg:    cfg,
		logger: logger,
		locks:  syncutil.NewContextShardedMutex(),
	}
}

// WithPublisher adds a best-effort event broadcaster.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.events = p
	return s
}

// tradeLock serializes mutations of a single trade. Waiters give up when
// their request context is cancelled.
func (s *Service) tradeLock(ctx context.Context, id string) (func(), error) {
	return s.locks.LockContext(ctx, id)
}

func (s *Service) publish(topic string, payload any) {
	if s.events != nil {
		s.events.Publish(topic, payload)
	}
}

// transition claims a status edge: validates it against the state machine,
// CASes the store, records the audit entry and the metric. The store CAS
// is the serialization point; losing it returns ErrConcurrentModification.
func (s *Service) transition(ctx context.Context, t *Trade, to Status) error {
	from := t.Status
	if !CanTransition(from, to) {
		return &TransitionError{Current: from, Requested: to}
	}
	if err := s.store.UpdateStatus(ctx, t.ID, from, to); err != nil {
		return err
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	Transitions.WithLabelValues(string(from), string(to)).Inc()
	_ = audit.Record(ctx, s.trail, audit.EntityTrade, t.ID, "trade_"+string(to),
		map[string]any{"status": from}, map[string]any{"status": to}, "")
	return nil
}

// revert undoes a claimed transition after a failed fund operation so the
// next attempt (caller retry or sweeper) sees the pre-claim state.
func (s *Service) revert(ctx context.Context, t *Trade, claimed, back Status) {
	if err := s.store.UpdateStatus(ctx, t.ID, claimed, back); err != nil {
		s.logger.Error("failed to revert trade status claim",
			"tradeId", t.ID, "claimed", claimed, "back", back, "error", err)
		return
	}
	t.Status = back
	_ = audit.Record(ctx, s.trail, audit.EntityTrade, t.ID, "trade_transition_reverted",
		map[string]any{"status": claimed}, map[string]any{"status": back}, "fund operation failed")
}

// Create accepts a slice of an offer as a trade. The offer capacity is
// consumed with a conditional decrement so two concurrent takers for the
// same capacity serialize. The trade is committed pending, advanced to
// active, then the escrow hold is placed and the trade advanced to escrow.
// If the hold fails the trade stays active with its payment deadline and
// the timeout sweeper reclaims it.
func (s *Service) Create(ctx context.Context, offerID, counterpartyID, amount string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Create",
		traces.OfferID(offerID), traces.UserID(counterpartyID), traces.Amount(amount))
	var err error
	defer func() { traces.End(span, err) }()
	defer observeOp("create")()

	if _, ok := money.ParsePositive(amount); !ok {
		err = fmt.Errorf("%w: amount must be positive", ErrAmountOutOfBounds)
		return nil, err
	}

	o, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID == counterpartyID {
		err = fmt.Errorf("%w: cannot trade against own offer", ErrNotAuthorized)
		return nil, err
	}
	if err = o.WithinBounds(amount); err != nil {
		return nil, err
	}

	var buyerID, sellerID string
	if o.Direction == offer.DirectionSell {
		sellerID, buyerID = o.OwnerID, counterpartyID
	} else {
		buyerID, sellerID = o.OwnerID, counterpartyID
	}

	if err = s.offers.ConsumeCapacity(ctx, offerID, amount); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &Trade{
		ID:              idgen.WithPrefix("trd_"),
		OfferID:         offerID,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		Asset:           o.Asset,
		CounterAsset:    o.CounterAsset,
		Amount:          amount,
		Price:           o.Price,
		Total:           money.Mul(amount, o.Price),
		Status:          StatusPending,
		EscrowAmount:    amount,
		PaymentDeadline: now.Add(s.cfg.PaymentWindow),
		ExpiresAt:       now.Add(s.cfg.TradeTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err = s.store.CreateTrade(ctx, t); err != nil {
		// Give the consumed capacity back; the trade never existed.
		if _, rerr := s.offers.RestoreCapacity(ctx, offerID, amount); rerr != nil {
			s.logger.Error("failed to restore offer capacity after create failure",
				"offerId", offerID, "amount", amount, "error", rerr)
		}
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	TradesCreated.Inc()
	_ = audit.Record(ctx, s.trail, audit.EntityTrade, t.ID, "trade_created", nil, t, "")

	if err = s.transition(ctx, t, StatusActive); err != nil {
		return nil, err
	}

	// Place the escrow hold. A SELL offer's capacity is already backed by
	// the owner's reservation, so the hold is pure attribution; a BUY
	// offer's seller is the taker, whose funds are reserved here.
	var holdErr error
	if o.Direction == offer.DirectionSell {
		holdErr = s.funds.RecordHold(ctx, sellerID, o.Asset, amount, t.ID)
	} else {
		holdErr = s.funds.Reserve(ctx, sellerID, o.Asset, amount, t.ID)
	}
	if holdErr != nil {
		s.logger.Warn("escrow hold failed, trade left active for sweep",
			"tradeId", t.ID, "sellerId", sellerID, "error", holdErr)
		err = fmt.Errorf("%w: %v", ErrEscrowHoldFailed, holdErr)
		return t, err
	}

	if err = s.transition(ctx, t, StatusEscrow); err != nil {
		return nil, err
	}
	s.publish("trade.created", t)

	return t, nil
}

// Get returns a trade by ID.
func (s *Service) Get(ctx context.Context, id string) (*Trade, error) {
	return s.store.GetTrade(ctx, id)
}

// ListByUser returns trades where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// CountOpenByOffer reports non-terminal trades against an offer.
func (s *Service) CountOpenByOffer(ctx context.Context, offerID string) (int, error) {
	return s.store.CountOpenByOffer(ctx, offerID)
}

// MarkPaymentSent records the buyer's claim of having paid. Valid only
// from escrow; moves no funds.
func (s *Service) MarkPaymentSent(ctx context.Context, tradeID, actorID string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.MarkPaymentSent",
		traces.TradeID(tradeID), traces.UserID(actorID))
	var err error
	defer func() { traces.End(span, err) }()
	defer observeOp("payment_sent")()

	unlock, err := s.tradeLock(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != actorID {
		err = fmt.Errorf("%w: only the buyer can mark payment sent", ErrNotAuthorized)
		return nil, err
	}

	if err = s.transition(ctx, t, StatusPaymentSent); err != nil {
		return nil, err
	}
	now := time.Now()
	t.PaymentSentAt = &now
	if err = s.store.SetPaymentSent(ctx, tradeID, now); err != nil {
		return nil, err
	}
	s.publish("trade.payment_sent", t)

	return t, nil
}

// ConfirmReceiptAndRelease settles the trade: the seller (or an admin)
// confirms the off-platform payment arrived, and the escrowed amount is
// paid out of the seller's reserve into the buyer's available balance.
func (s *Service) ConfirmReceiptAndRelease(ctx context.Context, tradeID, actorID string, isAdmin bool) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.ConfirmReceiptAndRelease",
		traces.TradeID(tradeID), traces.UserID(actorID))
	var err error
	defer func() { traces.End(span, err) }()
	defer observeOp("release")()

	unlock, err := s.tradeLock(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && t.SellerID != actorID {
		err = fmt.Errorf("%w: only the seller can release escrow", ErrNotAuthorized)
		return nil, err
	}

	if err = s.releaseEscrowToBuyer(ctx, t); err != nil {
		return nil, err
	}
	s.publish("trade.completed", t)

	return t, nil
}

// releaseEscrowToBuyer performs the payout path shared by seller release
// and buyer-favor dispute resolution: claim escrow_released, transfer the
// escrow, then mark completed. The caller holds the trade lock.
func (s *Service) releaseEscrowToBuyer(ctx context.Context, t *Trade) error {
	if err := s.transition(ctx, t, StatusEscrowReleased); err != nil {
		return err
	}
	prev := StatusPaymentSent
	if t.DisputeID != "" {
		prev = StatusDisputed
	}
	if err := s.funds.Transfer(ctx, t.SellerID, t.BuyerID, t.Asset, t.EscrowAmount, t.ID); err != nil {
		// A duplicate reference means a prior attempt already paid out;
		// carry on to the completed mark instead of reverting.
		if !errors.Is(err, ledger.ErrDuplicateReference) {
			s.revert(ctx, t, StatusEscrowReleased, prev)
			return fmt.Errorf("escrow transfer failed: %w", err)
		}
	}
	return s.transition(ctx, t, StatusCompleted)
}

// Cancel aborts a trade before any payment evidence exists. Valid only
// from pending or active. The consumed offer capacity is restored; no
// escrow hold exists yet in these states, so the ledger is untouched
// unless the offer was cancelled out from under the trade.
func (s *Service) Cancel(ctx context.Context, tradeID, actorID string, isAdmin bool) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Cancel",
		traces.TradeID(tradeID), traces.UserID(actorID))
	var err error
	defer func() { traces.End(span, err) }()
	defer observeOp("cancel")()

	unlock, err := s.tradeLock(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && t.BuyerID != actorID && t.SellerID != actorID {
		err = ErrNotParticipant
		return nil, err
	}
	if t.Status != StatusPending && t.Status != StatusActive {
		err = &TransitionError{Current: t.Status, Requested: StatusCancelled}
		return nil, err
	}

	from := t.Status
	if err = s.transition(ctx, t, StatusCancelled); err != nil {
		return nil, err
	}
	if err = s.restoreCapacityOrRelease(ctx, t); err != nil {
		// Give the capacity back a chance on a later retry instead of
		// leaving the trade cancelled with the amount stranded.
		s.revert(ctx, t, StatusCancelled, from)
		return nil, fmt.Errorf("failed to restore offer capacity: %w", err)
	}
	s.publish("trade.cancelled", t)

	return t, nil
}

// restoreCapacityOrRelease gives a reclaimed trade's amount back to the
// offer pool, or straight to the seller's available balance when the
// offer's own reservation is already gone (cancelled offer).
func (s *Service) restoreCapacityOrRelease(ctx context.Context, t *Trade) error {
	restored, err := s.offers.RestoreCapacity(ctx, t.OfferID, t.Amount)
	if err != nil {
		return err
	}
	if restored {
		return nil
	}
	o, err := s.offers.Get(ctx, t.OfferID)
	if err != nil {
		return err
	}
	if o.Direction == offer.DirectionSell {
		if err := s.funds.Release(ctx, t.SellerID, t.Asset, t.Amount, t.ID); err != nil {
			return err
		}
	}
	return nil
}

// returnEscrowToSeller undoes an established escrow hold: a SELL offer's
// hold flows back into the offer pool (the reservation never left the
// owner), a BUY offer's seller gets their reserve released. The caller
// has already claimed the terminal transition.
func (s *Service) returnEscrowToSeller(ctx context.Context, t *Trade) error {
	o, err := s.offers.Get(ctx, t.OfferID)
	if err != nil {
		return err
	}

	if o.Direction == offer.DirectionSell {
		if err := s.funds.RecordHoldUnwind(ctx, t.SellerID, t.Asset, t.EscrowAmount, t.ID); err != nil {
			return err
		}
		// The hold is already unwound; a capacity failure here is logged
		// rather than returned so the caller does not re-run the unwind.
		if err := s.restoreCapacityOrRelease(ctx, t); err != nil {
			s.logger.Error("failed to restore offer capacity",
				"tradeId", t.ID, "offerId", t.OfferID, "error", err)
		}
		return nil
	}

	if err := s.funds.Release(ctx, t.SellerID, t.Asset, t.EscrowAmount, t.ID); err != nil {
		return err
	}
	if _, err := s.offers.RestoreCapacity(ctx, t.OfferID, t.Amount); err != nil {
		s.logger.Error("failed to restore offer capacity",
			"tradeId", t.ID, "offerId", t.OfferID, "error", err)
	}
	return nil
}
