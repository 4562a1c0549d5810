package audit

import (
	"context"
	"testing"
)

func TestActorFromContext_Defaults(t *testing.T) {
	actorID, role := ActorFromContext(context.Background())
	if actorID != "system" || role != "system" {
		t.Errorf("expected system actor, got %s/%s", actorID, role)
	}
}

func TestActorFromContext_Set(t *testing.T) {
	ctx := WithActor(context.Background(), "alice", "user")
	actorID, role := ActorFromContext(ctx)
	if actorID != "alice" || role != "user" {
		t.Errorf("expected alice/user, got %s/%s", actorID, role)
	}
}

func TestRecord_SnapshotsAndActor(t *testing.T) {
	trail := NewMemoryTrail()
	ctx := WithActor(context.Background(), "admin-1", "admin")
	ctx = WithRequestID(ctx, "req-7")

	type state struct {
		Status string `json:"status"`
	}
	err := Record(ctx, trail, EntityTrade, "trd_1", "payment_sent",
		state{Status: "escrow"}, state{Status: "payment_sent"}, "")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries := trail.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ActorID != "admin-1" || e.ActorRole != "admin" {
		t.Errorf("unexpected actor: %s/%s", e.ActorID, e.ActorRole)
	}
	if e.PrevValue != `{"status":"escrow"}` {
		t.Errorf("unexpected prev snapshot: %s", e.PrevValue)
	}
	if e.NewValue != `{"status":"payment_sent"}` {
		t.Errorf("unexpected new snapshot: %s", e.NewValue)
	}
	if e.RequestID != "req-7" {
		t.Errorf("unexpected request ID: %s", e.RequestID)
	}
}

func TestMemoryTrail_QueryFiltersAndOrders(t *testing.T) {
	trail := NewMemoryTrail()
	ctx := context.Background()

	_ = Record(ctx, trail, EntityTrade, "trd_1", "created", nil, nil, "")
	_ = Record(ctx, trail, EntityTrade, "trd_1", "escrow_opened", nil, nil, "")
	_ = Record(ctx, trail, EntityOffer, "ofr_1", "created", nil, nil, "")

	entries, err := trail.Query(ctx, EntityTrade, "trd_1", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Descending order: newest first
	if entries[0].Action != "escrow_opened" || entries[1].Action != "created" {
		t.Errorf("unexpected order: %s, %s", entries[0].Action, entries[1].Action)
	}
}
