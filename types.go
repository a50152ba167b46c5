package authcore

import (
	"time"

	"github.com/deskflow/authcore/session"
)

// ClientInfo is request metadata recorded on sessions and audit events.
type ClientInfo = session.ClientInfo

// LoginResult is returned by Login and AuthenticateExternal. RefreshToken is
// meant for an HttpOnly cookie; AccessToken for the response body.
type LoginResult struct {
	IdentityID       string
	Role             string
	AccessToken      string
	RefreshToken     string
	ExpiresIn        time.Duration
	RefreshExpiresAt time.Time
	SessionID        string
	// Provisioned is set when AuthenticateExternal created the identity.
	Provisioned bool
}

// RefreshResult is returned by Refresh.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// AuthResult is the validated content of an access token.
type AuthResult struct {
	IdentityID string
	Role       string
	ExpiresAt  time.Time
}

// SessionInfo describes one live session without exposing its token hash.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	UserAgent string
	IP        string
}

// RegisterRequest creates a password identity.
type RegisterRequest struct {
	Email    string
	Password string
	// Role defaults to Config.Account.DefaultRole.
	Role string
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	IdentityID string
	// VerificationSent reports whether a verification token was delivered.
	VerificationSent bool
}
