package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"scms-access-service/internal/domain/identity"
)

// AuditRepository appends login/logout events to the audit_logs table.
// Append-only: nothing in this service reads the table back.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit record. The record id is assigned here if unset.
func (r *AuditRepository) Append(ctx context.Context, rec *identity.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	query := `
		INSERT INTO audit_logs (id, user_id, email, action, role, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, rec.ID, rec.UserID, rec.Email, rec.Action, rec.Role).
		Scan(&rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}
