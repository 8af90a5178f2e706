// Package service records command outcomes, delegating persistence to an
// AuditRepository.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/GVMBot/internal/models"
)

const redacted = "[redacted]"

// AuditRepository defines the persistence operations required by the audit
// service.
type AuditRepository interface {
	// Record stores one entry.
	Record(ctx context.Context, entry models.AuditEntry) error
}

// AuditService stamps and sanitizes entries before they are stored.
type AuditService struct {
	repo AuditRepository
	now  func() time.Time
}

// NewAuditService constructs an AuditService on repo.
func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo, now: time.Now}
}

// Record assigns an id and timestamp to entry, removes secrets from its
// arguments and stores it.
func (s *AuditService) Record(ctx context.Context, entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	entry.Args = redactArgs(entry.Command, entry.Args)
	return s.repo.Record(ctx, entry)
}

// redactArgs hides the password of adduser (third argument).
func redactArgs(command, args string) string {
	if command != "adduser" {
		return args
	}
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return args
	}
	fields[2] = redacted
	return strings.Join(fields, " ")
}
