package middleware

import (
	"context"
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

const (
	RoleAdmin  = "admin"
	RoleClient = "client"

	AdminTokenHeader = "X-Admin-Token"
)

type roleKey struct{}

var RoleContextKey = roleKey{}

// deriveRole resolves the caller role from the admin token header.
func deriveRole(token, adminToken string) string {
	if adminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) == 1 {
		return RoleAdmin
	}
	return RoleClient
}

// Role stores the caller role in the request context.
func Role(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := deriveRole(c.GetHeader(AdminTokenHeader), adminToken)
		ctx := context.WithValue(c.Request.Context(), RoleContextKey, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// IsRole reports whether ctx carries the given role.
func IsRole(ctx context.Context, want string) bool {
	return GetRole(ctx) == want
}

// GetRole returns the caller role, client by default.
func GetRole(ctx context.Context) string {
	r, ok := ctx.Value(RoleContextKey).(string)
	if !ok {
		return RoleClient
	}
	return r
}
