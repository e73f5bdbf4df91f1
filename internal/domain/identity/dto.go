package identity

import (
	"time"

	"scms-access-service/internal/pkg/rbac"
)

// LoginRequest for dashboard login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest for self-service registration. Role is not accepted from
// the client: registration always creates a manager account.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// UserInfo minimal user information returned to the dashboard
type UserInfo struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Username    string            `json:"username"`
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
}

// LoginResponse successful login response
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserInfo  `json:"user"`
}

// GuardRequest is the routing layer's admission query for a navigation.
type GuardRequest struct {
	Path     string   `json:"path" binding:"required"`
	Required []string `json:"required"`
}

// GuardResponse tells the router to admit or where to redirect.
type GuardResponse struct {
	Admit      bool   `json:"admit"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// SessionView is the read-only session snapshot exposed over HTTP.
type SessionView struct {
	State SessionState `json:"state"`
	User  *UserInfo    `json:"user,omitempty"`
}
