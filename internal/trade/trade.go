// Package trade implements the trade lifecycle: escrow-backed commitments
// against offers, advanced by buyer/seller actions, timeouts and dispute
// resolution.
//
// Every status change goes through a compare-and-swap on the stored status,
// claimed before any funds move. A ledger failure reverts the claim, so a
// crash between the two steps can never double-release an escrow hold.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrTradeNotFound          = errors.New("trade not found")
	ErrDisputeNotFound        = errors.New("dispute not found")
	ErrNotParticipant         = errors.New("not a participant in this trade")
	ErrNotAuthorized          = errors.New("not authorized for this action")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("trade was modified concurrently")
	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")
	ErrDisputeNotAllowed      = errors.New("trade is not in a disputable state")
	ErrEscrowHoldFailed       = errors.New("escrow hold failed")
	ErrAmountOutOfBounds      = errors.New("amount outside offer bounds")
	ErrInvalidResolution      = errors.New("invalid dispute resolution")
)

// Status is a trade lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusActive         Status = "active"
	StatusEscrow         Status = "escrow"
	StatusPaymentSent    Status = "payment_sent"
	StatusEscrowReleased Status = "escrow_released"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
	StatusDisputed       Status = "disputed"
)

// validTransitions is the complete edge set of the trade state machine.
// escrow_released is a transient state: it exists only between the escrow
// payout and the terminal completed mark, so the audit trail shows the
// funds move separately from trade completion.
var validTransitions = map[Status][]Status{
	StatusPending:        {StatusActive, StatusCancelled},
	StatusActive:         {StatusEscrow, StatusCancelled, StatusExpired},
	StatusEscrow:         {StatusPaymentSent, StatusDisputed, StatusExpired},
	StatusPaymentSent:    {StatusEscrowReleased, StatusDisputed, StatusExpired},
	StatusEscrowReleased: {StatusCompleted},
	StatusDisputed:       {StatusEscrowReleased, StatusCancelled},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a trade in this status can never move again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// TransitionError reports a rejected state transition with both sides.
type TransitionError struct {
	Current   Status
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.Current, e.Requested)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// Trade is a single bounded commitment against an offer between two parties.
type Trade struct {
	ID              string     `json:"id"`
	OfferID         string     `json:"offerId"`
	BuyerID         string     `json:"buyerId"`
	SellerID        string     `json:"sellerId"`
	Asset           string     `json:"asset"`
	CounterAsset    string     `json:"counterAsset"`
	Amount          string     `json:"amount"`
	Price           string     `json:"price"`
	Total           string     `json:"total"` // amount * price in counterAsset
	Status          Status     `json:"status"`
	EscrowAmount    string     `json:"escrowAmount"`
	PaymentDeadline time.Time  `json:"paymentDeadline"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	DisputeID       string     `json:"disputeId,omitempty"`
	PaymentSentAt   *time.Time `json:"paymentSentAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Dispute statuses and resolutions.
const (
	DisputeOpen     = "open"
	DisputeResolved = "resolved"

	ResolutionReleasedToBuyer  = "released_to_buyer"
	ResolutionReturnedToSeller = "returned_to_seller"
)

// Dispute is an adjudication request that freezes a trade pending a
// binding resolution. Once resolved it is immutable.
type Dispute struct {
	ID         string     `json:"id"`
	TradeID    string     `json:"tradeId"`
	RaisedBy   string     `json:"raisedBy"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Store persists trades and disputes.
type Store interface {
	CreateTrade(ctx context.Context, t *Trade) error
	GetTrade(ctx context.Context, id string) (*Trade, error)
	// UpdateStatus compares-and-swaps the trade status; zero rows matched
	// means the trade moved underneath the caller (ErrConcurrentModification).
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	SetPaymentSent(ctx context.Context, id string, at time.Time) error
	SetDispute(ctx context.Context, tradeID, disputeID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error)
	// ListExpired returns non-terminal trades past their deadline: active
	// and escrow trades past paymentDeadline or expiresAt, payment_sent
	// trades past expiresAt. Disputed trades are frozen and never listed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Trade, error)
	CountOpenByOffer(ctx context.Context, offerID string) (int, error)

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	// ResolveDispute compares-and-swaps the dispute from open to resolved;
	// zero rows matched against an existing dispute means it was already
	// resolved (ErrDisputeAlreadyResolved).
	ResolveDispute(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error
}
