package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deskflow/authcore/identity"
)

// DefaultMaxSessions is the per-identity cap on concurrent sessions.
const DefaultMaxSessions = 5

var (
	// ErrNotFound means the token is not in the identity's session list,
	// either because it was never issued or because it was revoked or evicted.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the session exists but its expiry has passed.
	ErrExpired = errors.New("session expired")
)

// ClientInfo is the request metadata recorded with a session.
type ClientInfo struct {
	UserAgent string
	IP        string
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// HashToken returns the hex SHA-256 of a refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Add appends a session for token and evicts the oldest entries beyond max.
// It returns the new session and the evicted ones.
func Add(ident *identity.Identity, token string, expiresAt time.Time, client ClientInfo, now time.Time, max int) (identity.Session, []identity.Session) {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	s := identity.Session{
		ID:        newID(now),
		TokenHash: HashToken(token),
		CreatedAt: now.UTC(),
		ExpiresAt: expiresAt.UTC(),
		UserAgent: client.UserAgent,
		IP:        client.IP,
	}
	list := append(ident.Sessions, s)
	var evicted []identity.Session
	if over := len(list) - max; over > 0 {
		evicted = append(evicted, list[:over]...)
		list = append([]identity.Session(nil), list[over:]...)
	}
	ident.Sessions = list
	return s, evicted
}

// Validate finds the session for token. An expired match returns the
// session together with ErrExpired so the caller can purge it.
func Validate(ident *identity.Identity, token string, now time.Time) (*identity.Session, error) {
	hash := HashToken(token)
	for idx := range ident.Sessions {
		s := &ident.Sessions[idx]
		if s.TokenHash != hash {
			continue
		}
		if !now.Before(s.ExpiresAt) {
			return s, ErrExpired
		}
		return s, nil
	}
	return nil, ErrNotFound
}

// Revoke removes the session for token and reports whether it was present.
func Revoke(ident *identity.Identity, token string) bool {
	hash := HashToken(token)
	for idx, s := range ident.Sessions {
		if s.TokenHash == hash {
			ident.Sessions = append(ident.Sessions[:idx:idx], ident.Sessions[idx+1:]...)
			return true
		}
	}
	return false
}

// RevokeAll clears the list and returns how many sessions were removed.
func RevokeAll(ident *identity.Identity) int {
	n := len(ident.Sessions)
	ident.Sessions = nil
	return n
}

// PurgeExpired drops every expired entry and returns how many were removed.
func PurgeExpired(ident *identity.Identity, now time.Time) int {
	kept := ident.Sessions[:0:0]
	for _, s := range ident.Sessions {
		if now.Before(s.ExpiresAt) {
			kept = append(kept, s)
		}
	}
	removed := len(ident.Sessions) - len(kept)
	if removed > 0 {
		ident.Sessions = kept
	}
	return removed
}
