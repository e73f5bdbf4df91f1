// Package store defines the document-store contracts consumed by the access
// controller: per-user profiles and the append-only audit trail.
package store

import (
	"context"

	"scms-access-service/internal/domain/identity"
)

// ProfileStore holds one profile document per identity id.
type ProfileStore interface {
	// Get returns the profile for id, or xerrors.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*identity.Profile, error)

	// GetAll returns every profile document. Used only to build the
	// admin-side user directory.
	GetAll(ctx context.Context) ([]identity.Profile, error)

	// Set creates or replaces the profile document for id.
	Set(ctx context.Context, id string, p *identity.Profile) error
}

// AuditStore appends login/logout events. Records are never read back by
// this service.
type AuditStore interface {
	Append(ctx context.Context, rec *identity.AuditRecord) error
}
