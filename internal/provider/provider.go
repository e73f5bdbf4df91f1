// Package provider defines the identity-provider contract the access
// controller depends on. The concrete local implementation lives in
// provider/local; tests substitute fakes.
package provider

import "context"

// Identity is the external identity handed out by the provider on sign-in
// and on state-change notifications. The id is opaque to callers.
type Identity struct {
	ID    string
	Email string
}

// StateChangeFunc receives provider auth-state notifications. A nil identity
// means no one is signed in. Notifications are delivered in order, one at a
// time.
type StateChangeFunc func(ident *Identity)

// IdentityProvider authenticates credentials and publishes auth-state
// changes for the lifetime of the process.
//
// SignIn failures are classified with the xerrors sentinels:
// ErrInvalidCredentials, ErrRateLimited, ErrNetwork.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error

	// Subscribe registers fn for state changes and immediately delivers the
	// current state. The returned function unsubscribes; it is safe to call
	// exactly once.
	Subscribe(fn StateChangeFunc) (unsubscribe func())
}

// Registrar creates new credentials. Kept separate from IdentityProvider so
// read-only deployments can omit it.
type Registrar interface {
	// Register creates a credential for email and signs the new identity in.
	// Fails with ErrDuplicateEntry if the email is taken.
	Register(ctx context.Context, email, password string) (*Identity, error)
}
