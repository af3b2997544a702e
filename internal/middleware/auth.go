package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"telehealth-server/internal/config"
	"telehealth-server/internal/models"
	"telehealth-server/internal/utils"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// AuthMiddleware authenticates the request with a JWT access token taken
// from the Authorization header.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return authenticate(cfg, headerToken)
}

// SignalAuthMiddleware authenticates the call signaling websocket. Browsers
// cannot set headers on a websocket upgrade, so a "token" query parameter is
// accepted when the Authorization header is absent. REST routes use
// AuthMiddleware.
func SignalAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return authenticate(cfg, func(c *gin.Context) (string, bool) {
		if c.GetHeader("Authorization") == "" {
			if token := c.Query("token"); token != "" {
				return token, true
			}
		}
		return headerToken(c)
	})
}

func authenticate(cfg *config.Config, extract func(c *gin.Context) (string, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extract(c)
		if !ok {
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString, cfg.JWTSecret, utils.AccessToken)
		if err != nil {
			utils.Unauthorized(c, "Invalid token: "+err.Error())
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, claims.Role)
		c.Next()
	}
}

func headerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		utils.Unauthorized(c, "Authorization header required")
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		utils.Unauthorized(c, "Invalid authorization header format")
		return "", false
	}
	return parts[1], true
}

// RoleAuthMiddleware restricts a route to the given roles. It must run after
// AuthMiddleware.
func RoleAuthMiddleware(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRoleFromContext(c)
		if !ok {
			utils.InternalServerError(c, "User role not found in context")
			c.Abort()
			return
		}
		if !lo.Contains(allowedRoles, role) {
			utils.Forbidden(c, "You do not have permission to access this resource.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserIDFromContext returns the authenticated caller's id.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(userIDKey)
	return id, id != ""
}

// GetUserRoleFromContext returns the authenticated caller's role.
func GetUserRoleFromContext(c *gin.Context) (models.Role, bool) {
	userRole, exists := c.Get(userRoleKey)
	if !exists {
		return "", false
	}
	role, ok := userRole.(models.Role)
	return role, ok
}
