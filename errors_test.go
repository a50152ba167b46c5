package authcore

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAuthErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("login: %w", &AuthError{Err: ErrAccountLocked, RetryAfter: 61 * time.Second})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatal("expected errors.Is to see the sentinel")
	}
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatal("expected errors.As to find AuthError")
	}
	if ae.RemainingMinutes() != 2 {
		t.Fatalf("expected 61s to round up to 2 minutes, got %d", ae.RemainingMinutes())
	}
	if ae.Error() != ErrAccountLocked.Error() {
		t.Fatalf("unexpected message %q", ae.Error())
	}

	var nilErr *AuthError
	if nilErr.Error() != "auth error" || nilErr.Unwrap() != nil || nilErr.RemainingMinutes() != 0 {
		t.Fatal("nil AuthError must be safe")
	}
}

func TestPublicMessageHidesDetails(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{invalidCredentials(2), "Invalid email or password."},
		{&AuthError{Err: ErrAccountLocked}, "Account is temporarily locked. Try again later."},
		{ErrTokenWrongPurpose, "Invalid token."},
		{ErrSingleUseTokenInvalid, "This link is invalid or has expired."},
		{errors.Join(ErrDeliveryFailed, errors.New("smtp: 550 mailbox unavailable")), "We could not send the message. Try again later."},
		{errors.New("pq: connection refused"), "Service temporarily unavailable."},
	}
	for _, tt := range tests {
		if got := PublicMessage(tt.err); got != tt.want {
			t.Fatalf("PublicMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestEveryEngineErrorHasPublicMessage(t *testing.T) {
	generic := PublicMessage(errors.New("x"))
	for _, err := range []error{
		ErrInvalidCredentials, ErrAccountLocked, ErrAccountInactive,
		ErrTokenExpired, ErrTokenMalformed, ErrTokenRevoked, ErrTokenWrongPurpose,
		ErrSingleUseTokenInvalid, ErrIdentityConflict, ErrIdentityNotFound,
		ErrPasswordReuse, ErrPasswordPolicy, ErrInvalidEmail, ErrExternalDisabled,
		ErrFeatureDisabled, ErrDeliveryFailed, ErrRateLimited,
	} {
		if PublicMessage(err) == generic {
			t.Fatalf("%v maps to the generic message", err)
		}
	}
}
