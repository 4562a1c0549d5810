// Package ledger tracks user balances per asset.
//
// A balance has two buckets:
//   - available: spendable by the user
//   - reserved: set aside to back sell offers and trade escrow holds
//
// Every mutation records a ledger entry, and no operation may drive either
// bucket negative. The offer and trade services are the only writers; they
// move funds available->reserved when an offer locks capacity, and
// reserved->counterparty-available when a trade settles.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/peertrade/internal/money"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDuplicateReference = errors.New("reference already processed")

	// ErrLedgerInvariant reports a mutation that would leave a balance
	// negative despite passing service-level checks. It indicates a bug or
	// a race the locking scheme should have prevented; the transaction is
	// rolled back and the operation fails, but the process keeps running.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
)

// Entry types recorded per mutation.
const (
	EntryDeposit     = "deposit"
	EntryReserve     = "reserve"
	EntryRelease     = "release"
	EntryTransferOut = "transfer_out"
	EntryTransferIn  = "transfer_in"
	EntryEscrowHold  = "escrow_hold"   // bookkeeping: reserved funds attributed to a trade
	EntryEscrowUnwnd = "escrow_unwind" // bookkeeping: attribution returned to the offer pool
)

// Entry represents a ledger entry.
type Entry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Asset        string    `json:"asset"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	Reference    string    `json:"reference,omitempty"` // offer ID, trade ID, etc.
	Counterparty string    `json:"counterparty,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Balance represents a user's balance in one asset.
type Balance struct {
	UserID    string    `json:"userId"`
	Asset     string    `json:"asset"`
	Available string    `json:"available"`
	Reserved  string    `json:"reserved"`
	TotalIn   string    `json:"totalIn"`
	TotalOut  string    `json:"totalOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists balances and entries. Each mutating call executes as one
// atomic transaction: balance adjustment plus entry insert commit together
// or not at all. Credit and Transfer enforce reference uniqueness inside
// that transaction and return ErrDuplicateReference on a repeat.
type Store interface {
	GetBalance(ctx context.Context, userID, asset string) (*Balance, error)
	Credit(ctx context.Context, userID, asset, amount, reference, description string) error
	Reserve(ctx context.Context, userID, asset, amount, reference string) error
	Release(ctx context.Context, userID, asset, amount, reference string) error
	Transfer(ctx context.Context, fromUserID, toUserID, asset, amount, reference string) error
	RecordAttribution(ctx context.Context, userID, asset, amount, entryType, reference string) error
	GetHistory(ctx context.Context, userID, asset string, limit int) ([]*Entry, error)
	HasEntry(ctx context.Context, entryType, reference string) (bool, error)
}

// Ledger manages user balances.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a user's current balance for an asset.
func (l *Ledger) GetBalance(ctx context.Context, userID, asset string) (*Balance, error) {
	return l.store.GetBalance(ctx, userID, asset)
}

// Deposit credits a user's available balance. Deposits are deduplicated by
// reference so a retried call cannot double-credit.
func (l *Ledger) Deposit(ctx context.Context, userID, asset, amount, reference string) error {
	defer observeOp(EntryDeposit)()

	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}

	// Fast path; the store rejects a racing duplicate inside its own
	// transaction.
	if reference != "" {
		exists, err := l.store.HasEntry(ctx, EntryDeposit, reference)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateReference
		}
	}

	return l.store.Credit(ctx, userID, asset, amount, reference, "deposit")
}

// Reserve moves amount from available to reserved. Fails fast with
// ErrInsufficientFunds rather than allowing a negative available balance.
func (l *Ledger) Reserve(ctx context.Context, userID, asset, amount, reference string) error {
	defer observeOp(EntryReserve)()

	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	return l.store.Reserve(ctx, userID, asset, amount, reference)
}

// Release moves amount from reserved back to available.
func (l *Ledger) Release(ctx context.Context, userID, asset, amount, reference string) error {
	defer observeOp(EntryRelease)()

	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	return l.store.Release(ctx, userID, asset, amount, reference)
}

// Transfer moves amount from one user's reserved balance to another user's
// available balance in a single transaction. Idempotent under retry: a
// reference that has already settled returns ErrDuplicateReference without
// moving funds again.
func (l *Ledger) Transfer(ctx context.Context, fromUserID, toUserID, asset, amount, reference string) error {
	defer observeOp(EntryTransferOut)()

	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}

	if reference != "" {
		exists, err := l.store.HasEntry(ctx, EntryTransferOut, reference)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateReference
		}
	}

	return l.store.Transfer(ctx, fromUserID, toUserID, asset, amount, reference)
}

// RecordHold writes a bookkeeping entry attributing part of a user's
// reserved balance to a specific trade. Balances are untouched: the total
// reserved amount is unchanged, but is now traceable to the trade rather
// than the generic offer reservation.
func (l *Ledger) RecordHold(ctx context.Context, userID, asset, amount, tradeID string) error {
	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	return l.store.RecordAttribution(ctx, userID, asset, amount, EntryEscrowHold, tradeID)
}

// RecordHoldUnwind writes the inverse bookkeeping entry when a trade ends
// without settling and its slice returns to the offer reservation.
func (l *Ledger) RecordHoldUnwind(ctx context.Context, userID, asset, amount, tradeID string) error {
	if _, ok := money.ParsePositive(amount); !ok {
		return ErrInvalidAmount
	}
	return l.store.RecordAttribution(ctx, userID, asset, amount, EntryEscrowUnwnd, tradeID)
}

// CanReserve checks if a user has sufficient available balance.
func (l *Ledger) CanReserve(ctx context.Context, userID, asset, amount string) (bool, error) {
	amt, ok := money.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, userID, asset)
	if err != nil {
		return false, err
	}

	avail, _ := money.Parse(bal.Available)
	return avail.Cmp(amt) >= 0, nil
}

// GetHistory returns ledger entries for a user and asset.
func (l *Ledger) GetHistory(ctx context.Context, userID, asset string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, userID, asset, limit)
}
