package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/auth"
	"billing_backend/internal/logger"
)

// AuthMiddleware validates the bearer token and stores the caller identity on
// the gin context and the request context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			appErrors.HandleGinError(c, appErrors.ErrUnauthorized)
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.ParseToken(tokenStr)
		if err != nil {
			appErrors.HandleGinError(c, appErrors.ErrInvalidToken.WithError(err))
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// RoleMiddleware restricts a route group to one role.
func RoleMiddleware(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != requiredRole {
			appErrors.HandleGinError(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id set by AuthMiddleware.
func GetUserID(c *gin.Context) string {
	return c.GetString("userID")
}
