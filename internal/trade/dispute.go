package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/peertrade/internal/audit"
	"github.com/mbd888/peertrade/internal/auth"
	"github.com/mbd888/peertrade/internal/idgen"
	"github.com/mbd888/peertrade/internal/traces"
)

// RaiseDispute freezes a trade pending adjudication. Either participant
// can raise one, but only from escrow or payment_sent.
func (s *Service) RaiseDispute(ctx context.Context, tradeID, raisedBy, reason string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "trade.RaiseDispute",
		traces.TradeID(tradeID), traces.UserID(raisedBy))
	var err error
	defer func() { traces.End(span, err) }()
	defer observeOp("dispute_raise")()

	unlock, err := s.tradeLock(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != raisedBy && t.SellerID != raisedBy {
		err = ErrNotParticipant
		return nil, err
	}
	if t.Status != StatusEscrow && t.Status != StatusPaymentSent {
		err = fmt.Errorf("%w: trade is %s", ErrDisputeNotAllowed, t.Status)
		return nil, err
	}

	d := &Dispute{
		ID:        idgen.WithPrefix("dsp_"),
		TradeID:   tradeID,
		RaisedBy:  raisedBy,
		Reason:    reason,
		Status:    DisputeOpen,
		CreatedAt: time.Now(),
	}
	if err = s.store.CreateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	if err = s.transition(ctx, t, StatusDisputed); err != nil {
		return nil, err
	}
	t.DisputeID = d.ID
	if err = s.store.SetDispute(ctx, tradeID, d.ID); err != nil {
		return nil, err
	}
	DisputesRaised.Inc()

	_ = audit.Record(ctx, s.trail, audit.EntityDispute, d.ID, "dispute_raised", nil, d, reason)
	s.publish("trade.disputed", t)

	return d, nil
}

// GetDispute returns a dispute by ID.
func (s *Service) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// ResolveDispute settles a disputed trade with a binding outcome.
// released_to_buyer pays the escrow out exactly like a seller release;
// returned_to_seller unwinds the hold exactly like an expiry. Funds move
// first and the dispute row is resolved last with a compare-and-swap, so
// a transient ledger failure leaves the dispute open for a clean retry
// and a second resolver fails with ErrDisputeAlreadyResolved.
func (s *Service) ResolveDispute(ctx context.Context, disputeID, resolution string, actor auth.Actor, authz auth.Authorizer) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "trade.ResolveDispute",
		traces.DisputeID(disputeID), traces.UserID(actor.ID))
	var err error
	defer func() { traces.End(span, err) }()
	defer observeOp("dispute_resolve")()

	if resolution != ResolutionReleasedToBuyer && resolution != ResolutionReturnedToSeller {
		err = fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
		return nil, err
	}
	if authz != nil && !authz.HasPermission(ctx, actor, auth.ActionResolveDispute) {
		err = ErrNotAuthorized
		return nil, err
	}

	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == DisputeResolved {
		err = ErrDisputeAlreadyResolved
		return nil, err
	}

	unlock, err := s.tradeLock(ctx, d.TradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, d.TradeID)
	if err != nil {
		return nil, err
	}

	if t.Status == StatusDisputed {
		switch resolution {
		case ResolutionReleasedToBuyer:
			err = s.releaseEscrowToBuyer(ctx, t)
		case ResolutionReturnedToSeller:
			if err = s.transition(ctx, t, StatusCancelled); err == nil {
				if err = s.returnEscrowToSeller(ctx, t); err != nil {
					s.revert(ctx, t, StatusCancelled, StatusDisputed)
				}
			}
		}
		if err != nil {
			return nil, err
		}
	} else {
		// A prior attempt moved the funds but crashed before marking the
		// dispute row. Only finish the bookkeeping when the trade landed
		// where this resolution would have put it.
		want := StatusCompleted
		if resolution == ResolutionReturnedToSeller {
			want = StatusCancelled
		}
		if t.Status != want {
			err = &TransitionError{Current: t.Status, Requested: want}
			return nil, err
		}
	}

	now := time.Now()
	if err = s.store.ResolveDispute(ctx, disputeID, resolution, actor.ID, now); err != nil {
		return nil, err
	}
	d.Status = DisputeResolved
	d.Resolution = resolution
	d.ResolvedBy = actor.ID
	d.ResolvedAt = &now
	DisputesResolved.WithLabelValues(resolution).Inc()

	_ = audit.Record(ctx, s.trail, audit.EntityDispute, d.ID, "dispute_resolved",
		map[string]any{"status": DisputeOpen},
		map[string]any{"status": DisputeResolved, "resolution": resolution}, "")
	s.publish("trade.dispute_resolved", t)

	return d, nil
}
