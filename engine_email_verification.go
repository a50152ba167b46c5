package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal/limiters"
	"github.com/deskflow/authcore/singleuse"
)

// RequestEmailVerification sends a verification token to the identity's
// email. It is a no-op for a verified email. If delivery fails the token is
// cleared and the error wraps ErrDeliveryFailed.
func (e *Engine) RequestEmailVerification(ctx context.Context, identityID string, client ClientInfo) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.EmailVerification.Enabled {
		return ErrFeatureDisabled
	}

	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrIdentityNotFound
		}
		return e.unavailable("verification lookup", err, zap.String("identity_id", identityID))
	}
	if ident.EmailVerified {
		return nil
	}
	if err := e.throttle(ctx, limiters.ActionEmailVerification, ident.Email, client); err != nil {
		return err
	}
	return e.sendVerification(ctx, ident, client)
}

func (e *Engine) sendVerification(ctx context.Context, ident *identity.Identity, client ClientInfo) error {
	e.metricInc(MetricEmailVerificationRequest)

	dest, ok := e.destination(ident)
	if !ok {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, ident.ID, "", client, ErrDeliveryFailed, nil)
		return ErrDeliveryFailed
	}

	plain, _, err := e.singleUse.Issue(ctx, ident.ID, identity.PurposeVerify, e.config.EmailVerification.TokenTTL)
	if err != nil {
		return e.unavailable("verification issue", err, zap.String("identity_id", ident.ID))
	}

	if derr := e.deliver(ctx, Delivery{
		Destination: dest,
		Purpose:     DeliveryEmailVerification,
		Token:       plain,
		Message:     "Confirm your email address with this link.",
	}); derr != nil {
		if err := e.singleUse.Invalidate(ctx, ident.ID, identity.PurposeVerify, plain); err != nil {
			e.log.Error("verification token invalidation failed", zap.String("identity_id", ident.ID), zap.Error(err))
		}
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, ident.ID, "", client, derr, nil)
		return derr
	}

	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, ident.ID, "", client, nil, nil)
	return nil
}

// VerifyEmail consumes a verification token and marks the email verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.EmailVerification.Enabled {
		return ErrFeatureDisabled
	}

	before, after, err := e.singleUse.Consume(ctx, identity.PurposeVerify, token, func(cur *identity.Identity) error {
		cur.EmailVerified = true
		return nil
	})
	if err != nil {
		if errors.Is(err, singleuse.ErrInvalid) {
			id := ""
			if before != nil {
				id = before.ID
			}
			e.metricInc(MetricEmailVerificationFailure)
			e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, id, "", ClientInfo{}, ErrSingleUseTokenInvalid, nil)
			return ErrSingleUseTokenInvalid
		}
		return e.unavailable("verification consume", err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, after.ID, "", ClientInfo{}, nil, nil)
	e.publishChanges(ctx, before, after, ClientInfo{})
	return nil
}
