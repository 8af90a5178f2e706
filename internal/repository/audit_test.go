package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/atinyakov/GVMBot/internal/models"
)

func setupAuditMock(t *testing.T) (*PostgresAuditRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresAuditRepository(db)
	cleanup := func() { db.Close() }
	return repo, mock, cleanup
}

var sampleEntry = models.AuditEntry{
	ID:        "8f14e45f-ceea-467f-a8ad-0a2b6d3f4c11",
	CallerID:  "42",
	Command:   "deletevps",
	Args:      "X",
	Outcome:   models.OutcomeDenied,
	CreatedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
}

func TestRecord_Success(t *testing.T) {
	repo, mock, cleanup := setupAuditMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO command_audit`)).
		WithArgs(sampleEntry.ID, "42", "deletevps", "X", "denied", sampleEntry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Record(context.Background(), sampleEntry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecord_Error(t *testing.T) {
	repo, mock, cleanup := setupAuditMock(t)
	defer cleanup()

	dbErr := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO command_audit`)).
		WillReturnError(dbErr)

	err := repo.Record(context.Background(), sampleEntry)
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped %v, got %v", dbErr, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
