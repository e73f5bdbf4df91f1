package jwt

import (
	"github.com/golang-jwt/jwt/v5"

	"scms-access-service/internal/pkg/rbac"
)

// Claims carried by dashboard access tokens.
type Claims struct {
	UserID      string            `json:"user_id"`
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions,omitempty"`
	Purpose     string            `json:"purpose"` // access
	jwt.RegisteredClaims
}

// HasPermission checks if the claims contain a specific permission.
func (c *Claims) HasPermission(p rbac.Permission) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the token belongs to an admin.
func (c *Claims) IsAdmin() bool {
	return c.Role == rbac.RoleAdmin
}

// VerifyAudience checks if the expected audience is listed in the claims.
func (c *Claims) VerifyAudience(audience string, required bool) bool {
	if len(c.Audience) == 0 {
		return !required
	}
	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}
	return false
}
