package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
)

// CredentialRepository stores the local identity provider's credential rows.
// Password hashes never leave this layer except to the provider itself.
type CredentialRepository struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByEmail retrieves a credential by email, case-insensitively.
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*identity.Credential, error) {
	query := `
		SELECT id, email, password_hash, created_at
		FROM user_credentials
		WHERE LOWER(email) = LOWER($1)
	`

	var cred identity.Credential
	err := r.db.QueryRow(ctx, query, email).Scan(
		&cred.ID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}

	return &cred, nil
}

// Create inserts a new credential row. Fails with ErrDuplicateEntry when the
// email is already registered.
func (r *CredentialRepository) Create(ctx context.Context, cred *identity.Credential) error {
	query := `
		INSERT INTO user_credentials (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, cred.ID, cred.Email, cred.PasswordHash).
		Scan(&cred.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}
