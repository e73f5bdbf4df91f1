package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"scms-access-service/internal/pkg/jwt"
	"scms-access-service/internal/pkg/rbac"
	"scms-access-service/internal/pkg/response"
	"scms-access-service/internal/pkg/session"
)

type AuthMiddleware struct {
	verifier *jwt.Verifier
	sessions session.Store
}

func NewAuthMiddleware(verifier *jwt.Verifier, sessions session.Store) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		sessions: sessions,
	}
}

// Auth validates the bearer token and loads the token session into the
// request context.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "missing authorization token")
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		ctx := c.Request.Context()

		blacklisted, err := m.sessions.IsTokenBlacklisted(ctx, claims.ID)
		if err != nil || blacklisted {
			response.Unauthorized(c, "token has been revoked")
			return
		}

		if _, err := m.sessions.Get(ctx, claims.UserID, claims.ID); err != nil {
			response.Unauthorized(c, "session not found or expired")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("jti", claims.ID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole requires the token role to be one of the given roles. MUST be
// used after Auth().
func (m *AuthMiddleware) RequireRole(roles ...rbac.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			response.Forbidden(c, "no role found - authentication required")
			return
		}

		for _, required := range roles {
			if role == required {
				c.Next()
				return
			}
		}

		response.Forbidden(c, "insufficient permissions")
	}
}

// RequirePermission requires the token role's fixed permission set to
// contain every given permission. MUST be used after Auth().
func (m *AuthMiddleware) RequirePermission(permissions ...rbac.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			response.Forbidden(c, "no role found - authentication required")
			return
		}

		for _, required := range permissions {
			if !rbac.Allowed(role, required) {
				response.Forbidden(c, "insufficient permissions")
				return
			}
		}

		c.Next()
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole).
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(rbac.RoleAdmin),
	}
}

// extractToken extracts the Bearer token from the Authorization header, with
// a query-param fallback for the websocket upgrade.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	return c.Query("token")
}
