package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deskflow/authcore/identity"
)

var rowColumns = []string{
	"id", "email", "email_verified", "password_hash", "role", "active", "failed_attempts", "lock_until",
	"external_id", "external_username", "sessions", "reset_token_hash", "reset_token_expires",
	"verify_token_hash", "verify_token_expires", "created_at", "updated_at", "version",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	s.clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, mock
}

func TestFindByEmailScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	sessions := `[{"id":"01J","token_hash":"th","created_at":"2025-12-01T00:00:00Z","expires_at":"2025-12-08T00:00:00Z"}]`

	mock.ExpectQuery("select .* from identities where email=\\$1").
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows(rowColumns).AddRow(
			"u1", "a@example.com", true, "digest", "agent", true, 2, nil,
			nil, nil, []byte(sessions), "rh", expires,
			nil, nil, created, created, int64(4),
		))

	rec, err := s.FindByEmail(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if rec.ID != "u1" || rec.FailedAttempts != 2 || rec.Version != 4 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Sessions) != 1 || rec.Sessions[0].TokenHash != "th" {
		t.Fatalf("unexpected sessions: %+v", rec.Sessions)
	}
	tok, ok := rec.Token(identity.PurposeReset)
	if !ok || tok.Hash != "rh" || !tok.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected reset token: %+v %v", tok, ok)
	}
	if _, ok := rec.Token(identity.PurposeVerify); ok {
		t.Fatal("unexpected verify token")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select .* from identities where id=\\$1").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	if _, err := s.FindByID(context.Background(), "nope"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into identities").WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Create(context.Background(), &identity.Identity{ID: "u1", Email: "a@example.com", PasswordHash: "h"})
	if !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateSetsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into identities").
		WithArgs("u1", "a@example.com", false, "h", "", true, 0, nil, nil, nil,
			sqlmock.AnyArg(), nil, nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &identity.Identity{ID: "u1", Email: "a@example.com", PasswordHash: "h", Active: true}
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Version != 1 || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record after create: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateVersionChecks(t *testing.T) {
	s, mock := newMockStore(t)
	rec := &identity.Identity{ID: "u1", Email: "a@example.com", PasswordHash: "h", Version: 3}

	mock.ExpectExec("update identities set .* where id=\\$1 and version=\\$2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Update(context.Background(), rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Version != 4 {
		t.Fatalf("expected version 4, got %d", rec.Version)
	}

	mock.ExpectExec("update identities set").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from identities where id=\\$1").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	if err := s.Update(context.Background(), rec); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec("update identities set").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from identities where id=\\$1").WithArgs("u1").WillReturnError(sql.ErrNoRows)
	if err := s.Update(context.Background(), rec); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select .* from identities where external_id=\\$1").WillReturnError(errors.New("connection reset"))

	if _, err := s.FindByExternalID(context.Background(), "42"); !errors.Is(err, identity.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestQueryFailureKeepsCause(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select .* from identities where email=\\$1").WillReturnError(context.DeadlineExceeded)

	_, err := s.FindByEmail(context.Background(), "a@example.com")
	if !errors.Is(err, identity.ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrUnavailable wrapping the deadline, got %v", err)
	}
}
