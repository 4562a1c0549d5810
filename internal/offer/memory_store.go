package offer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/peertrade/internal/money"
	"github.com/mbd888/peertrade/internal/pagination"
)

// MemoryStore is an in-memory offer store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	offers map[string]*Offer
}

// NewMemoryStore creates a new in-memory offer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]*Offer)}
}

func (m *MemoryStore) Create(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *o
	cp.Activity = append([]ActivityRecord(nil), o.Activity...)
	return &cp, nil
}

func (m *MemoryStore) UpdateTerms(ctx context.Context, id string, t Terms) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	o.Price = t.Price
	o.MinPerTrade = t.MinPerTrade
	o.MaxPerTrade = t.MaxPerTrade
	o.Methods = append([]string(nil), t.Methods...)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GrowTotal(ctx context.Context, id, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	o.Total = money.Add(o.Total, amount)
	o.Available = money.Add(o.Available, amount)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ShrinkTotal(ctx context.Context, id, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	// Only uncommitted capacity can be given back, and total must stay positive.
	if money.Cmp(o.Available, amount) < 0 || money.Cmp(o.Total, amount) <= 0 {
		return ErrInvalidAmountChange
	}
	o.Total = money.Sub(o.Total, amount)
	o.Available = money.Sub(o.Available, amount)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok || o.Status != from {
		return ErrOfferNotFound
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ConsumeCapacity(ctx context.Context, id, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	if o.Status != StatusActive {
		return ErrOfferNotActive
	}
	if money.Cmp(o.Available, amount) < 0 {
		return ErrInsufficientCapacity
	}
	o.Available = money.Sub(o.Available, amount)
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) RestoreCapacity(ctx context.Context, id, amount string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return false, ErrOfferNotFound
	}
	if o.Status == StatusCancelled {
		return false, nil
	}
	o.Available = money.Add(o.Available, amount)
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) AppendActivity(ctx context.Context, id string, rec ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	o.Activity = append(o.Activity, rec)
	return nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int, cursor *pagination.Cursor) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Offer
	for _, o := range m.offers {
		if o.OwnerID != ownerID {
			continue
		}
		if cursor != nil {
			// Newest first: only items strictly after the cursor position.
			if o.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if o.CreatedAt.Equal(cursor.CreatedAt) && o.ID >= cursor.ID {
				continue
			}
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
