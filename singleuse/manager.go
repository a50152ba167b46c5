// Package singleuse issues and consumes purpose-scoped, single-use tokens
// (password reset, email verification).
//
// Only the SHA-256 of a token is stored. An identity holds at most one live
// token per purpose; issuing a new one overwrites the old. Expiry is checked
// lazily when a token is presented, and an expired token is cleared then.
package singleuse

import (
	"context"
	"errors"
	"time"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal"
)

// ErrInvalid is returned for unknown, already used or expired tokens.
var ErrInvalid = errors.New("single-use token invalid")

// Store is the subset of identity.Store the manager needs.
type Store interface {
	identity.ReadWriter
	FindByTokenHash(ctx context.Context, purpose identity.Purpose, hash string) (*identity.Identity, error)
}

// Manager issues and consumes tokens.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Set stores a fresh token for purpose on ident and returns the plaintext.
// It does not persist; callers run it inside identity.Mutate.
func Set(ident *identity.Identity, purpose identity.Purpose, ttl time.Duration, now time.Time) (string, error) {
	plain, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	ident.SetToken(purpose, identity.SingleUseToken{
		Hash:      internal.HashOpaque(plain),
		ExpiresAt: now.Add(ttl).UTC(),
	})
	return plain, nil
}

// Issue creates and persists a token for identity id.
func (m *Manager) Issue(ctx context.Context, id string, purpose identity.Purpose, ttl time.Duration) (string, *identity.Identity, error) {
	var plain string
	_, after, err := identity.Mutate(ctx, m.store, id, func(ident *identity.Identity) error {
		var err error
		plain, err = Set(ident, purpose, ttl, m.now())
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return plain, after, nil
}

// Consume validates plaintext for purpose and, in the same versioned write,
// clears it and applies apply to the identity. The token cannot be used
// twice: a concurrent consumer either loses the version race and re-reads
// the cleared token, or finds nothing by hash.
//
// apply may be nil. If apply fails nothing is written and the token stays
// valid.
func (m *Manager) Consume(ctx context.Context, purpose identity.Purpose, plaintext string, apply func(*identity.Identity) error) (before, after *identity.Identity, err error) {
	owner, hash, err := m.lookup(ctx, purpose, plaintext)
	if err != nil {
		return nil, nil, err
	}

	expired := false
	before, after, err = identity.Mutate(ctx, m.store, owner.ID, func(ident *identity.Identity) error {
		expired = false
		tok, ok := ident.Token(purpose)
		if !ok || !internal.EqualHash(tok.Hash, hash) {
			return ErrInvalid
		}
		ident.ClearToken(purpose)
		if !m.now().Before(tok.ExpiresAt) {
			expired = true
			return nil
		}
		if apply != nil {
			return apply(ident)
		}
		return nil
	})
	if err != nil {
		return before, nil, err
	}
	if expired {
		return before, after, ErrInvalid
	}
	return before, after, nil
}

// Peek returns the owner of a live token without spending it, so callers can
// skip expensive work for tokens that would be rejected anyway. Unknown and
// expired tokens are ErrInvalid; an expired token is cleared. A token that
// Peek accepted can still lose a race to another consumer.
func (m *Manager) Peek(ctx context.Context, purpose identity.Purpose, plaintext string) (*identity.Identity, error) {
	owner, hash, err := m.lookup(ctx, purpose, plaintext)
	if err != nil {
		return nil, err
	}
	tok, ok := owner.Token(purpose)
	if !ok || !internal.EqualHash(tok.Hash, hash) {
		return nil, ErrInvalid
	}
	if m.now().Before(tok.ExpiresAt) {
		return owner, nil
	}
	_, _, err = identity.Mutate(ctx, m.store, owner.ID, func(ident *identity.Identity) error {
		cur, ok := ident.Token(purpose)
		if !ok || !internal.EqualHash(cur.Hash, hash) {
			return identity.ErrNoChange
		}
		ident.ClearToken(purpose)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nil, ErrInvalid
}

func (m *Manager) lookup(ctx context.Context, purpose identity.Purpose, plaintext string) (*identity.Identity, string, error) {
	if err := internal.ValidateOpaqueToken(plaintext); err != nil {
		return nil, "", ErrInvalid
	}
	hash := internal.HashOpaque(plaintext)
	owner, err := m.store.FindByTokenHash(ctx, purpose, hash)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, "", ErrInvalid
		}
		return nil, "", err
	}
	return owner, hash, nil
}

// Invalidate clears the token for purpose on identity id if its hash still
// equals the hash of plaintext, so a newer token is left alone.
func (m *Manager) Invalidate(ctx context.Context, id string, purpose identity.Purpose, plaintext string) error {
	hash := internal.HashOpaque(plaintext)
	_, _, err := identity.Mutate(ctx, m.store, id, func(ident *identity.Identity) error {
		tok, ok := ident.Token(purpose)
		if !ok || !internal.EqualHash(tok.Hash, hash) {
			return identity.ErrNoChange
		}
		ident.ClearToken(purpose)
		return nil
	})
	return err
}
