// Package auth provides request identity and authorization for peertrade.
//
// Identity model:
// - Callers identify as a user via the X-User-ID header
// - Admin callers additionally present X-Admin-Key, checked against the
//   configured admin API key with a constant-time compare
// - Dispute resolution and offer takedowns are admin-only actions
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// Errors
var (
	ErrNotAuthenticated = errors.New("authentication required")
	ErrNotAuthorized    = errors.New("not authorized for this action")
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Actions gated by role.
const (
	ActionResolveDispute = "dispute.resolve"
	ActionDisableOffer   = "offer.disable"
	ActionQueryAudit     = "audit.query"
)

// adminActions lists the actions only admins may perform.
var adminActions = map[string]bool{
	ActionResolveDispute: true,
	ActionDisableOffer:   true,
	ActionQueryAudit:     true,
}

// Actor is an authenticated caller.
type Actor struct {
	ID   string
	Role string
}

// Authorizer decides whether an actor may perform an action.
type Authorizer interface {
	HasPermission(ctx context.Context, actor Actor, action string) bool
}

// RoleAuthorizer is the default role-based Authorizer.
type RoleAuthorizer struct{}

// HasPermission allows admin-gated actions only for admins; everything
// else is allowed for any authenticated actor.
func (RoleAuthorizer) HasPermission(_ context.Context, actor Actor, action string) bool {
	if adminActions[action] {
		return actor.Role == RoleAdmin
	}
	return actor.ID != ""
}

// CheckAdminKey compares a presented admin key against the configured one.
// An empty configured key disables admin access entirely.
func CheckAdminKey(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
