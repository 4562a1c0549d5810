package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryTrail stores audit entries in memory for demo/testing.
type MemoryTrail struct {
	entries []*Entry
	nextID  int64
	mu      sync.RWMutex
}

// NewMemoryTrail creates an in-memory audit trail.
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{}
}

func (t *MemoryTrail) Append(_ context.Context, entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	cp := *entry
	cp.ID = t.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *MemoryTrail) Query(_ context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Entry
	// Iterate in reverse for descending order
	for i := len(t.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := t.entries[i]
		if e.EntityType != entityType || e.EntityID != entityID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Entries returns all stored entries in append order (for testing).
func (t *MemoryTrail) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*Entry, len(t.entries))
	copy(result, t.entries)
	return result
}
