package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal/limiters"
	"github.com/deskflow/authcore/internal/logging"
	"github.com/deskflow/authcore/session"
	"github.com/deskflow/authcore/singleuse"
)

// RequestPasswordReset issues a reset token for email and hands it to the
// notifier. The result is the same whether or not the email belongs to an
// identity; only throttling and backend failures are reported.
//
// A token whose delivery fails is invalidated at once. The caller learns
// nothing about it.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string, client ClientInfo) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.PasswordReset.Enabled {
		return ErrFeatureDisabled
	}
	if err := e.throttle(ctx, limiters.ActionPasswordReset, identity.NormalizeEmail(email), client); err != nil {
		return err
	}
	e.metricInc(MetricPasswordResetRequest)

	ident, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", client, nil, nil)
			return nil
		}
		return e.unavailable("reset lookup", err, logging.Email(email))
	}

	dest, ok := e.destination(ident)
	if !ok || !ident.Active {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, ident.ID, "", client, nil, nil)
		return nil
	}

	plain, _, err := e.singleUse.Issue(ctx, ident.ID, identity.PurposeReset, e.config.PasswordReset.TokenTTL)
	if err != nil {
		return e.unavailable("reset issue", err, zap.String("identity_id", ident.ID))
	}

	derr := e.deliver(ctx, Delivery{
		Destination: dest,
		Purpose:     DeliveryPasswordReset,
		Token:       plain,
		Message:     "Use this link to reset your password. It expires soon and works once.",
	})
	if derr != nil {
		if err := e.singleUse.Invalidate(ctx, ident.ID, identity.PurposeReset, plain); err != nil {
			e.log.Error("reset token invalidation failed", zap.String("identity_id", ident.ID), zap.Error(err))
		}
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, derr == nil, ident.ID, "", client, derr, nil)
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. In the same
// write it revokes every session and clears lockout state. The token is
// spent even if the follow-up notice cannot be delivered.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.PasswordReset.Enabled {
		return ErrFeatureDisabled
	}
	if err := e.checkPassword(newPassword); err != nil {
		return e.resetFailed(ctx, "", err)
	}

	owner, err := e.singleUse.Peek(ctx, identity.PurposeReset, token)
	if err != nil {
		if errors.Is(err, singleuse.ErrInvalid) {
			return e.resetFailed(ctx, "", ErrSingleUseTokenInvalid)
		}
		return e.unavailable("reset lookup", err)
	}
	if !owner.Active {
		return e.resetFailed(ctx, owner.ID, ErrAccountInactive)
	}

	digest, err := e.hasher.Hash(ctx, newPassword)
	if err != nil {
		return e.unavailable("password hash", err)
	}

	before, after, err := e.singleUse.Consume(ctx, identity.PurposeReset, token, func(cur *identity.Identity) error {
		if !cur.Active {
			return ErrAccountInactive
		}
		cur.PasswordHash = digest
		session.RevokeAll(cur)
		applyLockState(cur, e.lockout.Unlock(lockState(cur)).State)
		return nil
	})
	if err != nil {
		id := ""
		if before != nil {
			id = before.ID
		}
		switch {
		case errors.Is(err, singleuse.ErrInvalid):
			return e.resetFailed(ctx, id, ErrSingleUseTokenInvalid)
		case errors.Is(err, ErrAccountInactive):
			return e.resetFailed(ctx, id, err)
		}
		return e.unavailable("reset consume", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, after.ID, "", ClientInfo{}, nil, nil)
	e.publishChanges(ctx, before, after, ClientInfo{})
	return nil
}

func (e *Engine) resetFailed(ctx context.Context, id string, err error) error {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, id, "", ClientInfo{}, err, nil)
	return err
}
