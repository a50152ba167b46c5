package session

import (
	"context"
	"errors"
	"time"

	"github.com/deskflow/authcore/identity"
)

// Manager persists session list changes. Each call is one versioned
// read-modify-write; a conflicting concurrent write is retried once.
type Manager struct {
	store identity.ReadWriter
	max   int
	now   func() time.Time
}

// NewManager returns a Manager capping each identity at max sessions.
func NewManager(store identity.ReadWriter, max int) *Manager {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Manager{store: store, max: max, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Max is the configured cap.
func (m *Manager) Max() int { return m.max }

// Create records a session for token on identity id.
func (m *Manager) Create(ctx context.Context, id, token string, expiresAt time.Time, client ClientInfo) (identity.Session, []identity.Session, error) {
	var (
		created identity.Session
		evicted []identity.Session
	)
	_, _, err := identity.Mutate(ctx, m.store, id, func(ident *identity.Identity) error {
		created, evicted = Add(ident, token, expiresAt, client, m.now(), m.max)
		return nil
	})
	return created, evicted, err
}

// Check validates token against the stored list. An expired session is
// removed before ErrExpired is returned.
func (m *Manager) Check(ctx context.Context, id, token string) (*identity.Identity, *identity.Session, error) {
	var found *identity.Session
	var verr error
	_, after, err := identity.Mutate(ctx, m.store, id, func(ident *identity.Identity) error {
		s, err := Validate(ident, token, m.now())
		verr = err
		if s != nil {
			cp := *s
			found = &cp
		}
		if errors.Is(err, ErrExpired) {
			Revoke(ident, token)
			return nil
		}
		return identity.ErrNoChange
	})
	if err != nil {
		return nil, nil, err
	}
	if verr != nil {
		return after, found, verr
	}
	return after, found, nil
}

// Revoke removes the session for token. Revoking an absent session is not
// an error; the bool reports whether anything was removed.
func (m *Manager) Revoke(ctx context.Context, id, token string) (bool, error) {
	removed := false
	_, _, err := identity.Mutate(ctx, m.store, id, func(ident *identity.Identity) error {
		removed = Revoke(ident, token)
		if !removed {
			return identity.ErrNoChange
		}
		return nil
	})
	return removed, err
}

// RevokeAll removes every session of identity id.
func (m *Manager) RevokeAll(ctx context.Context, id string) (int, error) {
	n := 0
	_, _, err := identity.Mutate(ctx, m.store, id, func(ident *identity.Identity) error {
		n = RevokeAll(ident)
		if n == 0 {
			return identity.ErrNoChange
		}
		return nil
	})
	return n, err
}
