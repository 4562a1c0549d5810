package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/mbd888/peertrade/internal/idgen"
	"github.com/mbd888/peertrade/internal/money"
)

type balanceKey struct {
	userID string
	asset  string
}

type memBalance struct {
	available *big.Int
	reserved  *big.Int
	totalIn   *big.Int
	totalOut  *big.Int
	updatedAt time.Time
}

// MemoryStore implements Store in memory for demo mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[balanceKey]*memBalance
	entries  []*Entry
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]*memBalance),
	}
}

func (m *MemoryStore) get(userID, asset string) *memBalance {
	key := balanceKey{userID, asset}
	b, ok := m.balances[key]
	if !ok {
		b = &memBalance{
			available: big.NewInt(0),
			reserved:  big.NewInt(0),
			totalIn:   big.NewInt(0),
			totalOut:  big.NewInt(0),
			updatedAt: time.Now(),
		}
		m.balances[key] = b
	}
	return b
}

func (m *MemoryStore) appendEntry(userID, asset, entryType, amount, reference, counterparty, description string) {
	m.entries = append(m.entries, &Entry{
		ID:           idgen.New(),
		UserID:       userID,
		Asset:        asset,
		Type:         entryType,
		Amount:       amount,
		Reference:    reference,
		Counterparty: counterparty,
		Description:  description,
		CreatedAt:    time.Now(),
	})
}

func (m *MemoryStore) hasEntryLocked(entryType, reference string) bool {
	if reference == "" {
		return false
	}
	for _, e := range m.entries {
		if e.Type == entryType && e.Reference == reference {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetBalance(_ context.Context, userID, asset string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{userID, asset}
	b, ok := m.balances[key]
	if !ok {
		return &Balance{
			UserID:    userID,
			Asset:     asset,
			Available: "0",
			Reserved:  "0",
			TotalIn:   "0",
			TotalOut:  "0",
			UpdatedAt: time.Now(),
		}, nil
	}

	return &Balance{
		UserID:    userID,
		Asset:     asset,
		Available: money.Format(b.available),
		Reserved:  money.Format(b.reserved),
		TotalIn:   money.Format(b.totalIn),
		TotalOut:  money.Format(b.totalOut),
		UpdatedAt: b.updatedAt,
	}, nil
}

func (m *MemoryStore) Credit(_ context.Context, userID, asset, amount, reference, description string) error {
	amt, ok := money.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasEntryLocked(EntryDeposit, reference) {
		return ErrDuplicateReference
	}
	b := m.get(userID, asset)
	b.available.Add(b.available, amt)
	b.totalIn.Add(b.totalIn, amt)
	b.updatedAt = time.Now()
	m.appendEntry(userID, asset, EntryDeposit, amount, reference, "", description)
	return nil
}

func (m *MemoryStore) Reserve(_ context.Context, userID, asset, amount, reference string) error {
	amt, ok := money.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A failed reserve must not materialize an empty account.
	b, ok := m.balances[balanceKey{userID, asset}]
	if !ok || b.available.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	b.available.Sub(b.available, amt)
	b.reserved.Add(b.reserved, amt)
	b.updatedAt = time.Now()
	m.appendEntry(userID, asset, EntryReserve, amount, reference, "", "funds reserved")
	return nil
}

func (m *MemoryStore) Release(_ context.Context, userID, asset, amount, reference string) error {
	amt, ok := money.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.get(userID, asset)
	if b.reserved.Cmp(amt) < 0 {
		InvariantViolations.Inc()
		return ErrLedgerInvariant
	}
	b.reserved.Sub(b.reserved, amt)
	b.available.Add(b.available, amt)
	b.updatedAt = time.Now()
	m.appendEntry(userID, asset, EntryRelease, amount, reference, "", "reservation released")
	return nil
}

func (m *MemoryStore) Transfer(_ context.Context, fromUserID, toUserID, asset, amount, reference string) error {
	amt, ok := money.ParsePositive(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasEntryLocked(EntryTransferOut, reference) {
		return ErrDuplicateReference
	}
	from := m.get(fromUserID, asset)
	if from.reserved.Cmp(amt) < 0 {
		InvariantViolations.Inc()
		return ErrLedgerInvariant
	}

	to := m.get(toUserID, asset)

	now := time.Now()
	from.reserved.Sub(from.reserved, amt)
	from.totalOut.Add(from.totalOut, amt)
	from.updatedAt = now
	to.available.Add(to.available, amt)
	to.totalIn.Add(to.totalIn, amt)
	to.updatedAt = now

	m.appendEntry(fromUserID, asset, EntryTransferOut, amount, reference, toUserID, "escrow settled")
	m.appendEntry(toUserID, asset, EntryTransferIn, amount, reference, fromUserID, "escrow payment received")
	return nil
}

func (m *MemoryStore) RecordAttribution(_ context.Context, userID, asset, amount, entryType, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendEntry(userID, asset, entryType, amount, reference, "", "")
	return nil
}

func (m *MemoryStore) GetHistory(_ context.Context, userID, asset string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.UserID != userID || e.Asset != asset {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) HasEntry(_ context.Context, entryType, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.Type == entryType && e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}
