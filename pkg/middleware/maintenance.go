package middleware

import (
	"context"
	"net/http"

	"apextrade-backend/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaintenanceFunc reports whether the system is in maintenance mode.
type MaintenanceFunc func(ctx context.Context) (bool, error)

// Maintenance rejects mutating non-admin requests while maintenance is on.
func Maintenance(enabled MaintenanceFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if IsRole(c.Request.Context(), RoleAdmin) {
			c.Next()
			return
		}

		on, err := enabled(c.Request.Context())
		if err != nil {
			zap.L().Warn("failed to read maintenance flag", zap.Error(err))
		}
		if on {
			_ = c.Error(errutil.ServiceUnavailable("system is under maintenance", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
