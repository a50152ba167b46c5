package authcore

import (
	"errors"
	"time"

	"github.com/deskflow/authcore/lockout"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")

	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrTokenWrongPurpose = errors.New("token has wrong purpose")

	// ErrSingleUseTokenInvalid covers unknown, consumed and expired reset or
	// verification tokens alike.
	ErrSingleUseTokenInvalid = errors.New("single-use token invalid")
	ErrIdentityConflict      = errors.New("identity conflict")
	ErrIdentityNotFound      = errors.New("identity not found")

	ErrPasswordReuse    = errors.New("new password must be different from current password")
	ErrPasswordPolicy   = errors.New("password policy violation")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrExternalDisabled = errors.New("external login disabled")
	ErrFeatureDisabled  = errors.New("feature disabled")
	ErrDeliveryFailed   = errors.New("notification delivery failed")
	ErrRateLimited      = errors.New("too many requests")
	// ErrUnavailable is returned when a backend (store, hasher, limiter)
	// fails. Details go to the log, never to the caller.
	ErrUnavailable    = errors.New("service unavailable")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AuthError attaches caller hints to a sentinel. errors.Is matches the
// wrapped sentinel.
type AuthError struct {
	Err error
	// AttemptsRemaining is set on ErrInvalidCredentials while the account is
	// below the lockout threshold.
	AttemptsRemaining int
	// RetryAfter is set on ErrAccountLocked.
	RetryAfter time.Duration
}

func (e *AuthError) Error() string {
	if e == nil || e.Err == nil {
		return "auth error"
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RemainingMinutes is RetryAfter rounded up to whole minutes.
func (e *AuthError) RemainingMinutes() int {
	if e == nil {
		return 0
	}
	return lockout.CeilMinutes(e.RetryAfter)
}

// PublicMessage maps err to a message safe to show an end user. Unknown
// errors map to a generic message.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrAccountLocked):
		return "Account is temporarily locked. Try again later."
	case errors.Is(err, ErrAccountInactive):
		return "Account is disabled."
	case errors.Is(err, ErrTokenExpired):
		return "Session expired. Please sign in again."
	case errors.Is(err, ErrTokenRevoked):
		return "Session is no longer valid. Please sign in again."
	case errors.Is(err, ErrTokenMalformed), errors.Is(err, ErrTokenWrongPurpose):
		return "Invalid token."
	case errors.Is(err, ErrSingleUseTokenInvalid):
		return "This link is invalid or has expired."
	case errors.Is(err, ErrIdentityConflict):
		return "This account is already linked to another identity."
	case errors.Is(err, ErrIdentityNotFound):
		return "Account not found."
	case errors.Is(err, ErrPasswordReuse):
		return "New password must be different from the current password."
	case errors.Is(err, ErrPasswordPolicy):
		return "Password does not meet the requirements."
	case errors.Is(err, ErrInvalidEmail):
		return "Enter a valid email address."
	case errors.Is(err, ErrExternalDisabled):
		return "External sign-in is not available."
	case errors.Is(err, ErrFeatureDisabled):
		return "This feature is not available."
	case errors.Is(err, ErrDeliveryFailed):
		return "We could not send the message. Try again later."
	case errors.Is(err, ErrRateLimited):
		return "Too many requests. Try again later."
	default:
		return "Service temporarily unavailable."
	}
}

func invalidCredentials(remaining int) error {
	return &AuthError{Err: ErrInvalidCredentials, AttemptsRemaining: remaining}
}

func accountLocked(d lockout.Decision) error {
	return &AuthError{Err: ErrAccountLocked, RetryAfter: d.Remaining}
}
