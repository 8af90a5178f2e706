// Package repository provides persistence for the command audit trail.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/GVMBot/internal/models"
)

// PostgresAuditRepository stores audit entries in PostgreSQL.
type PostgresAuditRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuditRepository creates a repository on db.
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{DB: db}
}

// Record inserts one entry. An entry whose id already exists is ignored.
func (r *PostgresAuditRepository) Record(ctx context.Context, e models.AuditEntry) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO command_audit (id, caller_id, command, args, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.CallerID, e.Command, e.Args, string(e.Outcome), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
