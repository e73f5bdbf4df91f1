package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
)

// ProfileRepository implements store.ProfileStore over the user_profiles
// table.
type ProfileRepository struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get retrieves the profile document for an identity id.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*identity.Profile, error) {
	query := `
		SELECT id, username, email, role, created_at
		FROM user_profiles
		WHERE id = $1
	`

	var p identity.Profile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Username, &p.Email, &p.Role, &p.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &p, nil
}

// GetAll retrieves every profile document, ordered by creation time.
func (r *ProfileRepository) GetAll(ctx context.Context) ([]identity.Profile, error) {
	query := `
		SELECT id, username, email, role, created_at
		FROM user_profiles
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []identity.Profile
	for rows.Next() {
		var p identity.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.Email, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	return profiles, nil
}

// Set creates or replaces the profile document for an identity id.
func (r *ProfileRepository) Set(ctx context.Context, id string, p *identity.Profile) error {
	query := `
		INSERT INTO user_profiles (id, username, email, role, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    email = EXCLUDED.email,
		    role = EXCLUDED.role
	`

	var createdAt interface{}
	if !p.CreatedAt.IsZero() {
		createdAt = p.CreatedAt
	}

	if _, err := r.db.Exec(ctx, query, id, p.Username, p.Email, p.Role, createdAt); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}

	return nil
}
