package middleware

import (
	"context"
	"time"

	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PermissionConfig holds configuration for permission middleware
type PermissionConfig struct {
	// ReadyTimeout bounds the wait for the session's first permission load.
	// Zero waits as long as the request lives.
	ReadyTimeout time.Duration
	Logger       *zap.Logger
}

// RequirePermission creates middleware that requires a specific permission
func RequirePermission(permission string, cfg PermissionConfig) gin.HandlerFunc {
	return RequireAnyPermission(cfg, permission)
}

// RequireAnyPermission creates middleware that requires any of the
// specified permissions, checked against the session's permission store.
// A route without a bound session is a wiring bug and answers 500.
func RequireAnyPermission(cfg PermissionConfig, permissions ...string) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		s := GetSession(c)
		if s == nil {
			log.Error("Permission check without a console session",
				zap.String("path", c.FullPath()),
				zap.Strings("required_any", permissions))
			abortWithError(c, dto.ErrCodeNoSession, "No console session is bound to this request")
			return
		}

		ctx := c.Request.Context()
		if cfg.ReadyTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ReadyTimeout)
			defer cancel()
		}
		store := s.Store()
		if err := store.WaitReady(ctx); err != nil {
			abortWithError(c, dto.ErrCodeNotReady, "Permissions are still loading")
			return
		}

		for _, p := range permissions {
			if store.Can(p) {
				c.Next()
				return
			}
		}

		log.Debug("Permission denied",
			zap.String("session_id", s.ID()),
			zap.Strings("required_any", permissions))
		abortWithError(c, dto.ErrCodeForbidden, "Access to this resource is forbidden")
	}
}
