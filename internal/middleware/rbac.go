package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/casebook-api/internal/models"
	appErrors "github.com/noah-isme/casebook-api/pkg/errors"
	"github.com/noah-isme/casebook-api/pkg/response"
)

// ActionAuthorizer answers whether a role may perform an action.
type ActionAuthorizer interface {
	Authorize(role models.RoleID, action models.Action) bool
}

// MatrixRefresher reloads the permission matrix when it has gone stale.
type MatrixRefresher interface {
	Refresh(ctx context.Context, force bool) error
}

// RequireAction rejects requests whose role may not perform action. Routes
// using it must sit behind JWT.
func RequireAction(authority ActionAuthorizer, action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !authority.Authorize(claims.Role, action) {
			response.Error(c, appErrors.Clone(appErrors.ErrAuthorizationDenied, "not allowed to "+string(action)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RefreshPermissions reloads a stale matrix before the request is
// authorized. A failed reload leaves the authority empty, so every check
// that follows denies.
func RefreshPermissions(authority MatrixRefresher, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if err := authority.Refresh(c.Request.Context(), false); err != nil {
			logger.Warn("permission matrix refresh failed", zap.Error(err))
		}
		c.Next()
	}
}
