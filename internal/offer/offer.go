// Package offer manages standing buy/sell offers and the fund reservation
// that backs the sell side.
//
// Flow:
//  1. Seller posts a SELL offer -> total moved available->reserved in the ledger
//  2. Counterparties open trades against slices of the offer's capacity
//  3. Owner tunes price/limits; owner or admin pauses/disables/reactivates
//  4. Delete releases whatever reservation is not committed to open trades
package offer

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/peertrade/internal/money"
)

var (
	ErrOfferNotFound        = errors.New("offer not found")
	ErrNotOwner             = errors.New("not the offer owner")
	ErrInvalidAmountChange  = errors.New("invalid amount change")
	ErrOfferHasActiveTrades = errors.New("offer has active trades")
	ErrInvalidTransition    = errors.New("invalid offer status transition")
	ErrOfferNotActive       = errors.New("offer is not active")
	ErrInsufficientCapacity = errors.New("insufficient offer capacity")
	ErrInvalidBounds        = errors.New("invalid amount bounds")
)

// Direction of an offer.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Status represents the state of an offer.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusDisabled  Status = "disabled"  // taken down by an admin
	StatusRejected  Status = "rejected"  // failed review
	StatusCancelled Status = "cancelled" // terminal; reservation released
)

// statusTransitions is the allowed status edge set. Any inactive status can
// be reactivated; reactivating a cancelled SELL offer re-reserves its
// remaining capacity (see Service.SetStatus).
var statusTransitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusDisabled, StatusCancelled},
	StatusPaused:    {StatusActive},
	StatusDisabled:  {StatusActive},
	StatusRejected:  {StatusActive},
	StatusCancelled: {StatusActive},
}

// CanTransition reports whether from -> to is an allowed status edge.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ActivityRecord is one structured entry in an offer's activity log.
// The log is an ordered list of typed records, append-only.
type ActivityRecord struct {
	Type       string    `json:"type"` // created, updated, status_changed, cancelled
	ActorID    string    `json:"actorId"`
	PrevStatus Status    `json:"prevStatus,omitempty"`
	NewStatus  Status    `json:"newStatus,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Activity record types.
const (
	ActivityCreated       = "created"
	ActivityUpdated       = "updated"
	ActivityStatusChanged = "status_changed"
	ActivityCancelled     = "cancelled"
)

// Offer represents a standing intent to buy or sell a bounded quantity of
// an asset under stated terms.
type Offer struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"ownerId"`
	Direction    Direction        `json:"direction"`
	Asset        string           `json:"asset"`
	CounterAsset string           `json:"counterAsset"`
	Price        string           `json:"price"` // units of counterAsset per unit of asset
	Total        string           `json:"total"`
	MinPerTrade  string           `json:"minPerTrade"`
	MaxPerTrade  string           `json:"maxPerTrade"`
	Available    string           `json:"available"`
	Methods      []string         `json:"methods"` // accepted settlement method IDs
	Status       Status           `json:"status"`
	Activity     []ActivityRecord `json:"activity,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// IsTerminal returns true when the offer can no longer back trades and its
// reservation has been released.
func (o *Offer) IsTerminal() bool {
	return o.Status == StatusCancelled
}

// validateBounds checks min <= max <= total and total > 0.
func validateBounds(total, minPerTrade, maxPerTrade string) error {
	t, ok := money.ParsePositive(total)
	if !ok {
		return fmt.Errorf("%w: total must be positive", ErrInvalidBounds)
	}
	mn, ok := money.Parse(minPerTrade)
	if !ok {
		return fmt.Errorf("%w: invalid minPerTrade", ErrInvalidBounds)
	}
	mx, ok := money.ParsePositive(maxPerTrade)
	if !ok {
		return fmt.Errorf("%w: maxPerTrade must be positive", ErrInvalidBounds)
	}
	if mn.Cmp(mx) > 0 {
		return fmt.Errorf("%w: minPerTrade exceeds maxPerTrade", ErrInvalidBounds)
	}
	if mx.Cmp(t) > 0 {
		return fmt.Errorf("%w: maxPerTrade exceeds total", ErrInvalidBounds)
	}
	return nil
}

// WithinBounds reports whether a trade amount fits the offer's per-trade
// limits and remaining capacity.
func (o *Offer) WithinBounds(amount string) error {
	amt, ok := money.ParsePositive(amount)
	if !ok {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidBounds)
	}
	if mn, ok := money.Parse(o.MinPerTrade); ok && amt.Cmp(mn) < 0 {
		return fmt.Errorf("%w: amount below minPerTrade", ErrInvalidBounds)
	}
	if mx, ok := money.Parse(o.MaxPerTrade); ok && amt.Cmp(mx) > 0 {
		return fmt.Errorf("%w: amount above maxPerTrade", ErrInvalidBounds)
	}
	if avail, ok := money.Parse(o.Available); ok && amt.Cmp(avail) > 0 {
		return ErrInsufficientCapacity
	}
	return nil
}
