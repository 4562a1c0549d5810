package trade

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory trade store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	trades   map[string]*Trade
	disputes map[string]*Dispute
}

// NewMemoryStore creates a new in-memory trade store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:   make(map[string]*Trade),
		disputes: make(map[string]*Dispute),
	}
}

func copyTrade(t *Trade) *Trade {
	cp := *t
	if t.PaymentSentAt != nil {
		at := *t.PaymentSentAt
		cp.PaymentSentAt = &at
	}
	return &cp
}

func (m *MemoryStore) CreateTrade(ctx context.Context, t *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[t.ID] = copyTrade(t)
	return nil
}

func (m *MemoryStore) GetTrade(ctx context.Context, id string) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return copyTrade(t), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	if t.Status != from {
		return ErrConcurrentModification
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetPaymentSent(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	t.PaymentSentAt = &at
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetDispute(ctx context.Context, tradeID, disputeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[tradeID]
	if !ok {
		return ErrTradeNotFound
	}
	t.DisputeID = disputeID
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Trade
	for _, t := range m.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, copyTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Trade
	for _, t := range m.trades {
		if len(out) >= limit {
			break
		}
		switch t.Status {
		case StatusActive, StatusEscrow:
			if t.PaymentDeadline.Before(now) || t.ExpiresAt.Before(now) {
				out = append(out, copyTrade(t))
			}
		case StatusPaymentSent:
			if t.ExpiresAt.Before(now) {
				out = append(out, copyTrade(t))
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) CountOpenByOffer(ctx context.Context, offerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.trades {
		if t.OfferID == offerID && !t.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateDispute(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	if d.ResolvedAt != nil {
		at := *d.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp, nil
}

func (m *MemoryStore) ResolveDispute(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return ErrDisputeNotFound
	}
	if d.Status != DisputeOpen {
		return ErrDisputeAlreadyResolved
	}
	d.Status = DisputeResolved
	d.Resolution = resolution
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &at
	return nil
}
