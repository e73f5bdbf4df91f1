package identity

import (
	"time"

	"scms-access-service/internal/pkg/rbac"
)

// SessionState is the lifecycle of the process-wide session.
type SessionState string

const (
	StatePending         SessionState = "pending"
	StateAuthenticated   SessionState = "authenticated"
	StateUnauthenticated SessionState = "unauthenticated"
)

// User is the resolved identity held by an authenticated session.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      rbac.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is a user document in the profile store, keyed by identity id.
type Profile struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	Role      rbac.Role `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Audit actions recorded on session boundaries.
const (
	ActionLogin  = "login"
	ActionLogout = "logout"
)

// AuditRecord is an append-only login/logout event. Write-only from this
// service; never read back into session state.
type AuditRecord struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Email     string    `json:"email" db:"email"`
	Action    string    `json:"action" db:"action"`
	Role      rbac.Role `json:"role" db:"role"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// Credential is an identity-provider credential row. The password hash never
// leaves the provider.
type Credential struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
