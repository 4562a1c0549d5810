// Package audit provides the append-only audit trail for offer, trade,
// dispute and ledger mutations.
//
// Entries are never updated or deleted. The trail is the forensic record
// used to reconcile ledger discrepancies and to verify that every trade
// followed a valid path through the state machine.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Entity types recorded in the trail.
const (
	EntityOffer   = "offer"
	EntityTrade   = "trade"
	EntityDispute = "dispute"
	EntityBalance = "balance"
)

type contextKey string

const (
	ctxActorID   contextKey = "audit_actor_id"
	ctxActorRole contextKey = "audit_actor_role"
	ctxRequestID contextKey = "audit_request_id"
)

// WithActor attaches actor info to the context for audit logging.
func WithActor(ctx context.Context, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	ctx = context.WithValue(ctx, ctxActorRole, role)
	return ctx
}

// WithRequestID attaches a request ID for audit correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestID, requestID)
}

// ActorFromContext returns the acting user recorded on the context.
// Mutations driven by the sweeper carry no actor and report "system".
func ActorFromContext(ctx context.Context) (actorID, role string) {
	actorID = "system"
	role = "system"
	if v, ok := ctx.Value(ctxActorID).(string); ok && v != "" {
		actorID = v
	}
	if v, ok := ctx.Value(ctxActorRole).(string); ok && v != "" {
		role = v
	}
	return
}

// RequestIDFromContext returns the request ID recorded on the context, if any.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		return v
	}
	return ""
}

// Entry represents a single audit record.
type Entry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actorId"`
	ActorRole  string    `json:"actorRole,omitempty"`
	PrevValue  string    `json:"prevValue,omitempty"` // JSON snapshot before the mutation
	NewValue   string    `json:"newValue,omitempty"`  // JSON snapshot after the mutation
	RequestID  string    `json:"requestId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Trail persists audit entries. Append-only: there is no update or delete.
type Trail interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error)
}

// Record builds an entry from the context actor and appends it.
// Snapshot values are JSON-marshalled; marshal failures degrade to "{}"
// rather than losing the entry.
func Record(ctx context.Context, trail Trail, entityType, entityID, action string, prev, next any, reason string) error {
	actorID, role := ActorFromContext(ctx)
	return trail.Append(ctx, &Entry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		ActorRole:  role,
		PrevValue:  snapshot(prev),
		NewValue:   snapshot(next),
		RequestID:  RequestIDFromContext(ctx),
		Reason:     reason,
	})
}

func snapshot(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
