// Package memstore is an in-process identity.Store for tests and single-node
// development.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/deskflow/authcore/identity"
)

// Store keeps identities in a map. Returned records are copies.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*identity.Identity
	clock func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{byID: make(map[string]*identity.Identity), clock: time.Now}
}

func (s *Store) FindByID(_ context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.byID[id]; ok {
		return rec.Clone(), nil
	}
	return nil, identity.ErrNotFound
}

func (s *Store) FindByEmail(_ context.Context, email string) (*identity.Identity, error) {
	return s.find(func(rec *identity.Identity) bool { return rec.Email != "" && rec.Email == email })
}

func (s *Store) FindByExternalID(_ context.Context, externalID string) (*identity.Identity, error) {
	return s.find(func(rec *identity.Identity) bool { return rec.ExternalID != "" && rec.ExternalID == externalID })
}

func (s *Store) FindByExternalUsername(_ context.Context, username string) (*identity.Identity, error) {
	return s.find(func(rec *identity.Identity) bool {
		return rec.ExternalUsername != "" && rec.ExternalUsername == username
	})
}

func (s *Store) FindByTokenHash(_ context.Context, purpose identity.Purpose, hash string) (*identity.Identity, error) {
	return s.find(func(rec *identity.Identity) bool {
		tok, ok := rec.Token(purpose)
		return ok && tok.Hash == hash
	})
}

func (s *Store) Create(_ context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[ident.ID]; ok {
		return identity.ErrDuplicate
	}
	if s.collides(ident) {
		return identity.ErrDuplicate
	}
	now := s.clock().UTC()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now
	ident.Version = 1
	s.byID[ident.ID] = ident.Clone()
	return nil
}

func (s *Store) Update(_ context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[ident.ID]
	if !ok {
		return identity.ErrNotFound
	}
	if cur.Version != ident.Version {
		return identity.ErrConflict
	}
	if s.collides(ident) {
		return identity.ErrDuplicate
	}
	ident.Version++
	ident.UpdatedAt = s.clock().UTC()
	s.byID[ident.ID] = ident.Clone()
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Len reports the number of stored identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) find(match func(*identity.Identity) bool) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.byID {
		if match(rec) {
			return rec.Clone(), nil
		}
	}
	return nil, identity.ErrNotFound
}

// collides must be called with s.mu held.
func (s *Store) collides(ident *identity.Identity) bool {
	for id, rec := range s.byID {
		if id == ident.ID {
			continue
		}
		if ident.Email != "" && rec.Email == ident.Email {
			return true
		}
		if ident.ExternalID != "" && rec.ExternalID == ident.ExternalID {
			return true
		}
		if ident.ExternalUsername != "" && rec.ExternalUsername == ident.ExternalUsername {
			return true
		}
	}
	return false
}

var _ identity.Store = (*Store)(nil)
