package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/lockout"
	"github.com/deskflow/authcore/session"
)

// ChangePassword replaces the password of an authenticated identity after
// checking current. Reusing the current password fails with
// ErrPasswordReuse and writes nothing. On success every session is revoked,
// so the caller has to sign in again.
func (e *Engine) ChangePassword(ctx context.Context, identityID, current, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return e.changeFailed(ctx, identityID, ErrInvalidCredentials)
		}
		return e.unavailable("change lookup", err, zap.String("identity_id", identityID))
	}
	if !ident.Active {
		return e.changeFailed(ctx, ident.ID, ErrAccountInactive)
	}
	if ident.PasswordHash == "" {
		return e.changeFailed(ctx, ident.ID, ErrInvalidCredentials)
	}
	if d := e.lockout.Gate(lockState(ident), e.now()); d.Outcome == lockout.Locked {
		return e.changeFailed(ctx, ident.ID, accountLocked(d))
	}

	ok, err := e.hasher.Verify(ctx, current, ident.PasswordHash)
	if err != nil {
		return e.unavailable("password verify", err, zap.String("identity_id", ident.ID))
	}
	if !ok {
		return e.changeFailed(ctx, ident.ID, ErrInvalidCredentials)
	}
	if newPassword == current {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return e.changeFailed(ctx, ident.ID, ErrPasswordReuse)
	}
	if err := e.checkPassword(newPassword); err != nil {
		return e.changeFailed(ctx, ident.ID, err)
	}

	digest, err := e.hasher.Hash(ctx, newPassword)
	if err != nil {
		return e.unavailable("password hash", err, zap.String("identity_id", ident.ID))
	}

	before, after, err := identity.Mutate(ctx, e.store, ident.ID, func(cur *identity.Identity) error {
		if cur.PasswordHash != ident.PasswordHash {
			return ErrInvalidCredentials
		}
		if !cur.Active {
			return ErrAccountInactive
		}
		cur.PasswordHash = digest
		session.RevokeAll(cur)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountInactive) {
			return e.changeFailed(ctx, ident.ID, err)
		}
		return e.unavailable("change write", err, zap.String("identity_id", ident.ID))
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, after.ID, "", ClientInfo{}, nil, nil)
	e.publishChanges(ctx, before, after, ClientInfo{})
	return nil
}

func (e *Engine) changeFailed(ctx context.Context, id string, err error) error {
	e.metricInc(MetricPasswordChangeFailure)
	e.emitAudit(ctx, auditEventPasswordChange, false, id, "", ClientInfo{}, err, nil)
	return err
}
