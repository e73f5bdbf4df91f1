package middleware

import (
	"github.com/gin-gonic/gin"

	"scms-access-service/internal/pkg/rbac"
)

// GetUserID gets the authenticated user id from context.
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// GetJTI gets the token id from context.
func GetJTI(c *gin.Context) (string, bool) {
	v, exists := c.Get("jti")
	if !exists {
		return "", false
	}
	jti, ok := v.(string)
	return jti, ok
}

// GetRole gets the token role from context.
func GetRole(c *gin.Context) (rbac.Role, bool) {
	v, exists := c.Get("role")
	if !exists {
		return "", false
	}
	role, ok := v.(rbac.Role)
	return role, ok
}

// IsAuthenticated checks if the request carries a validated token.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get("user_id")
	return exists
}
