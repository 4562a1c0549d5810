package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/peertrade/internal/audit"
)

const (
	// ContextKeyUserID is the key for the authenticated user ID in gin context
	ContextKeyUserID = "authUserID"
	// ContextKeyIsAdmin is the key for the admin flag in gin context
	ContextKeyIsAdmin = "authIsAdmin"
)

// Middleware extracts caller identity from request headers.
// Sets authUserID and authIsAdmin in the gin context, and stamps the
// request context with the actor so downstream audit entries carry it.
func Middleware(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		isAdmin := CheckAdminKey(adminKey, c.GetHeader("X-Admin-Key"))

		if userID != "" {
			c.Set(ContextKeyUserID, userID)
		}
		c.Set(ContextKeyIsAdmin, isAdmin)

		role := RoleUser
		if isAdmin {
			role = RoleAdmin
		}
		if userID != "" || isAdmin {
			ctx := audit.WithActor(c.Request.Context(), userID, role)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

// RequireUser rejects requests without a user identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-User-ID header required",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without a valid admin key.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin access required",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user's ID, or "" if unauthenticated.
func UserID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsAdmin reports whether the request presented a valid admin key.
func IsAdmin(c *gin.Context) bool {
	v, exists := c.Get(ContextKeyIsAdmin)
	if !exists {
		return false
	}
	return v.(bool)
}

// ActorFrom builds an Actor from the gin context.
func ActorFrom(c *gin.Context) Actor {
	role := RoleUser
	if IsAdmin(c) {
		role = RoleAdmin
	}
	return Actor{ID: UserID(c), Role: role}
}
