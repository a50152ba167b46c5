// Package pgstore persists identities in PostgreSQL through database/sql and
// the pgx stdlib driver. Sessions are a JSONB column; each single-use token
// purpose has its own hash and expiry columns.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/deskflow/authcore/identity"
)

//go:embed schema.sql
var schema string

const columns = `id, email, email_verified, password_hash, role, active, failed_attempts, lock_until,
	external_id, external_username, sessions, reset_token_hash, reset_token_expires,
	verify_token_hash, verify_token_expires, created_at, updated_at, version`

const uniqueViolation = "23505"

// Store implements identity.Store.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open connects with the "pgx" driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", identity.ErrUnavailable, err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// Migrate creates the identities table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.findOne(ctx, `select `+columns+` from identities where id=$1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return s.findOne(ctx, `select `+columns+` from identities where email=$1`, email)
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*identity.Identity, error) {
	return s.findOne(ctx, `select `+columns+` from identities where external_id=$1`, externalID)
}

func (s *Store) FindByExternalUsername(ctx context.Context, username string) (*identity.Identity, error) {
	return s.findOne(ctx, `select `+columns+` from identities where external_username=$1`, username)
}

func (s *Store) FindByTokenHash(ctx context.Context, purpose identity.Purpose, hash string) (*identity.Identity, error) {
	switch purpose {
	case identity.PurposeReset:
		return s.findOne(ctx, `select `+columns+` from identities where reset_token_hash=$1`, hash)
	case identity.PurposeVerify:
		return s.findOne(ctx, `select `+columns+` from identities where verify_token_hash=$1`, hash)
	default:
		return nil, identity.ErrNotFound
	}
}

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	now := s.clock().UTC()
	created := ident.CreatedAt
	if created.IsZero() {
		created = now
	}
	r, err := toRow(ident)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into identities(`+columns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,1)`,
		ident.ID, r.email, ident.EmailVerified, ident.PasswordHash, ident.Role, ident.Active,
		ident.FailedAttempts, r.lockUntil, r.externalID, r.externalUsername, r.sessions,
		r.resetHash, r.resetExpires, r.verifyHash, r.verifyExpires, created, now,
	)
	if err != nil {
		return mapErr(err)
	}
	ident.CreatedAt = created
	ident.UpdatedAt = now
	ident.Version = 1
	return nil
}

func (s *Store) Update(ctx context.Context, ident *identity.Identity) error {
	now := s.clock().UTC()
	r, err := toRow(ident)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`update identities set email=$3, email_verified=$4, password_hash=$5, role=$6, active=$7,
		 failed_attempts=$8, lock_until=$9, external_id=$10, external_username=$11, sessions=$12,
		 reset_token_hash=$13, reset_token_expires=$14, verify_token_hash=$15, verify_token_expires=$16,
		 updated_at=$17, version=version+1
		 where id=$1 and version=$2`,
		ident.ID, ident.Version, r.email, ident.EmailVerified, ident.PasswordHash, ident.Role,
		ident.Active, ident.FailedAttempts, r.lockUntil, r.externalID, r.externalUsername, r.sessions,
		r.resetHash, r.resetExpires, r.verifyHash, r.verifyExpires, now,
	)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `select 1 from identities where id=$1`, ident.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return identity.ErrNotFound
		}
		if err != nil {
			return mapErr(err)
		}
		return identity.ErrConflict
	}
	ident.UpdatedAt = now
	ident.Version++
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", identity.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*identity.Identity, error) {
	var (
		rec                         identity.Identity
		email, extID, extUser       sql.NullString
		resetHash, verifyHash       sql.NullString
		lockUntil                   sql.NullTime
		resetExpires, verifyExpires sql.NullTime
		sessions                    []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &email, &rec.EmailVerified, &rec.PasswordHash, &rec.Role, &rec.Active,
		&rec.FailedAttempts, &lockUntil, &extID, &extUser, &sessions, &resetHash, &resetExpires,
		&verifyHash, &verifyExpires, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, mapErr(err)
	}
	rec.Email = email.String
	rec.ExternalID = extID.String
	rec.ExternalUsername = extUser.String
	if lockUntil.Valid {
		t := lockUntil.Time
		rec.LockUntil = &t
	}
	if len(sessions) > 0 {
		if err := json.Unmarshal(sessions, &rec.Sessions); err != nil {
			return nil, fmt.Errorf("%w: sessions column: %v", identity.ErrUnavailable, err)
		}
	}
	if resetHash.Valid {
		rec.SetToken(identity.PurposeReset, identity.SingleUseToken{Hash: resetHash.String, ExpiresAt: resetExpires.Time})
	}
	if verifyHash.Valid {
		rec.SetToken(identity.PurposeVerify, identity.SingleUseToken{Hash: verifyHash.String, ExpiresAt: verifyExpires.Time})
	}
	return &rec, nil
}

type row struct {
	email, externalID, externalUsername sql.NullString
	lockUntil                           sql.NullTime
	sessions                            []byte
	resetHash, verifyHash               sql.NullString
	resetExpires, verifyExpires         sql.NullTime
}

func toRow(ident *identity.Identity) (row, error) {
	sessions := ident.Sessions
	if sessions == nil {
		sessions = []identity.Session{}
	}
	raw, err := json.Marshal(sessions)
	if err != nil {
		return row{}, err
	}
	r := row{
		email:            nullString(ident.Email),
		externalID:       nullString(ident.ExternalID),
		externalUsername: nullString(ident.ExternalUsername),
		sessions:         raw,
	}
	if ident.LockUntil != nil {
		r.lockUntil = sql.NullTime{Time: *ident.LockUntil, Valid: true}
	}
	if tok, ok := ident.Token(identity.PurposeReset); ok {
		r.resetHash = nullString(tok.Hash)
		r.resetExpires = sql.NullTime{Time: tok.ExpiresAt, Valid: true}
	}
	if tok, ok := ident.Token(identity.PurposeVerify); ok {
		r.verifyHash = nullString(tok.Hash)
		r.verifyExpires = sql.NullTime{Time: tok.ExpiresAt, Valid: true}
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return identity.ErrDuplicate
	}
	return fmt.Errorf("%w: %w", identity.ErrUnavailable, err)
}

var _ identity.Store = (*Store)(nil)
