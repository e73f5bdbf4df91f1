package session

import (
	"context"
	"time"

	"scms-access-service/internal/pkg/rbac"
)

// Data is the cached record for one issued access token.
type Data struct {
	JTI         string            `json:"jti"`
	UserID      string            `json:"user_id"`
	Email       string            `json:"email"`
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
	LoginAt     time.Time         `json:"login_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Store is the token-session cache consulted on every authenticated request.
// Implemented by Manager over Redis; tests use in-memory fakes.
type Store interface {
	Create(ctx context.Context, data *Data) error
	Get(ctx context.Context, userID, jti string) (*Data, error)
	Invalidate(ctx context.Context, userID, jti string) error
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}
