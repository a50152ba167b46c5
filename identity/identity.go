package identity

import (
	"errors"
	"time"
)

// Purpose scopes a single-use token.
type Purpose string

const (
	PurposeReset  Purpose = "reset"
	PurposeVerify Purpose = "verify"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeReset || p == PurposeVerify
}

// Identity is an authenticatable principal.
//
// Exactly one authentication path must be satisfiable: a password digest or a
// bound external identity (or both). Sessions are kept in creation order,
// oldest first.
type Identity struct {
	ID               string                     `json:"id"`
	Email            string                     `json:"email,omitempty"`
	EmailVerified    bool                       `json:"email_verified"`
	PasswordHash     string                     `json:"password_hash,omitempty"`
	Role             string                     `json:"role"`
	Active           bool                       `json:"active"`
	FailedAttempts   int                        `json:"failed_attempts"`
	LockUntil        *time.Time                 `json:"lock_until,omitempty"`
	ExternalID       string                     `json:"external_id,omitempty"`
	ExternalUsername string                     `json:"external_username,omitempty"`
	Sessions         []Session                  `json:"sessions,omitempty"`
	Tokens           map[Purpose]SingleUseToken `json:"tokens,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`

	// Version is the optimistic-concurrency counter. Stores compare it on
	// Update and bump it on success; callers never set it.
	Version int64 `json:"version"`
}

// Session is one refresh grant. The signed refresh token is never stored,
// only its SHA-256.
type Session struct {
	ID        string    `json:"id"`
	TokenHash string    `json:"token_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

// SingleUseToken is the stored half of a reset or verification token.
type SingleUseToken struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	errNoAuthPath        = errors.New("identity needs a password hash or an external id")
	errNegativeAttempts  = errors.New("identity failed attempts must be >= 0")
	errMissingID         = errors.New("identity id is required")
	errInvalidSessionTTL = errors.New("session expiry must be after creation")
)

// Validate checks the structural invariants every store write must satisfy.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errMissingID
	}
	if i.PasswordHash == "" && i.ExternalID == "" {
		return errNoAuthPath
	}
	if i.FailedAttempts < 0 {
		return errNegativeAttempts
	}
	for _, s := range i.Sessions {
		if !s.ExpiresAt.After(s.CreatedAt) {
			return errInvalidSessionTTL
		}
	}
	return nil
}

// Locked reports whether a lock is in force at now.
func (i *Identity) Locked(now time.Time) bool {
	return i.LockUntil != nil && i.LockUntil.After(now)
}

// Token returns the live token for purpose, if any.
func (i *Identity) Token(p Purpose) (SingleUseToken, bool) {
	t, ok := i.Tokens[p]
	return t, ok
}

// SetToken stores t for purpose p, replacing any previous token.
func (i *Identity) SetToken(p Purpose, t SingleUseToken) {
	if i.Tokens == nil {
		i.Tokens = make(map[Purpose]SingleUseToken, 2)
	}
	i.Tokens[p] = t
}

// ClearToken removes the token for p and reports whether one existed.
func (i *Identity) ClearToken(p Purpose) bool {
	if _, ok := i.Tokens[p]; !ok {
		return false
	}
	delete(i.Tokens, p)
	if len(i.Tokens) == 0 {
		i.Tokens = nil
	}
	return true
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.LockUntil != nil {
		lu := *i.LockUntil
		out.LockUntil = &lu
	}
	if i.Sessions != nil {
		out.Sessions = append([]Session(nil), i.Sessions...)
	}
	if i.Tokens != nil {
		out.Tokens = make(map[Purpose]SingleUseToken, len(i.Tokens))
		for k, v := range i.Tokens {
			out.Tokens[k] = v
		}
	}
	return &out
}
