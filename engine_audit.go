package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/lockout"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventPasswordChange           = "password_change"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventExternalLogin            = "external_login"
	auditEventAccountCreation          = "account_creation"
	auditEventAccountStatusChange      = "account_status_change"
	auditEventSessionEvicted           = "session_evicted"
	auditEventRateLimited              = "rate_limited"
)

// AuditErrorCode is the stable, non-sensitive error label on audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenMalformed     AuditErrorCode = "token_malformed"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrTokenWrongPurpose  AuditErrorCode = "token_wrong_purpose"
	auditErrSingleUseInvalid   AuditErrorCode = "single_use_token_invalid"
	auditErrIdentityConflict   AuditErrorCode = "identity_conflict"
	auditErrIdentityNotFound   AuditErrorCode = "identity_not_found"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrInvalidEmail       AuditErrorCode = "invalid_email"
	auditErrExternalDisabled   AuditErrorCode = "external_disabled"
	auditErrFeatureDisabled    AuditErrorCode = "feature_disabled"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
	client ClientInfo,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenMalformed):
		return auditErrTokenMalformed
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenWrongPurpose):
		return auditErrTokenWrongPurpose
	case errors.Is(err, ErrSingleUseTokenInvalid):
		return auditErrSingleUseInvalid
	case errors.Is(err, ErrIdentityConflict):
		return auditErrIdentityConflict
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrIdentityNotFound
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrExternalDisabled):
		return auditErrExternalDisabled
	case errors.Is(err, ErrFeatureDisabled):
		return auditErrFeatureDisabled
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// publishChanges reports the status transitions between two persisted
// versions of an identity. It runs after a successful write; delivery
// failures here are logged and otherwise ignored.
func (e *Engine) publishChanges(ctx context.Context, before, after *identity.Identity, client ClientInfo) {
	changes := identity.Diff(before, after)
	if len(changes) == 0 {
		return
	}
	dest, deliverable := e.destination(after)

	for _, c := range changes {
		change := c
		e.emitAudit(ctx, auditEventAccountStatusChange, true, after.ID, "", client, nil, func() map[string]string {
			return map[string]string{"change": string(change)}
		})

		var msg string
		purpose := DeliveryAccountStatus
		switch change {
		case identity.ChangeLocked:
			e.metricInc(MetricAccountLocked)
			msg = fmt.Sprintf("Your account was locked for %d minutes after repeated failed sign-in attempts.",
				lockout.CeilMinutes(after.LockUntil.Sub(e.now())))
		case identity.ChangeDeactivated:
			msg = "Your account has been disabled."
		case identity.ChangeActivated:
			msg = "Your account has been enabled."
		case identity.ChangePasswordChanged:
			purpose = DeliveryPasswordChanged
			msg = "Your password was changed. If this wasn't you, reset it immediately."
		}
		if msg == "" || !deliverable {
			continue
		}
		_ = e.deliver(ctx, Delivery{Destination: dest, Purpose: purpose, Message: msg})
	}
}
