package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/session"
)

// DisableAccount deactivates an identity and revokes all its sessions.
// Disabling a disabled identity is a no-op.
func (e *Engine) DisableAccount(ctx context.Context, identityID string) error {
	changed, err := e.updateStatus(ctx, identityID, "disable", func(cur *identity.Identity) error {
		if !cur.Active {
			return identity.ErrNoChange
		}
		cur.Active = false
		session.RevokeAll(cur)
		return nil
	})
	if changed {
		e.metricInc(MetricAccountDisabled)
	}
	return err
}

// EnableAccount reactivates an identity.
func (e *Engine) EnableAccount(ctx context.Context, identityID string) error {
	changed, err := e.updateStatus(ctx, identityID, "enable", func(cur *identity.Identity) error {
		if cur.Active {
			return identity.ErrNoChange
		}
		cur.Active = true
		return nil
	})
	if changed {
		e.metricInc(MetricAccountEnabled)
	}
	return err
}

// UnlockAccount clears a lockout and the failed-attempt counter ahead of
// expiry.
func (e *Engine) UnlockAccount(ctx context.Context, identityID string) error {
	_, err := e.updateStatus(ctx, identityID, "unlock", func(cur *identity.Identity) error {
		if cur.LockUntil == nil && cur.FailedAttempts == 0 {
			return identity.ErrNoChange
		}
		applyLockState(cur, e.lockout.Unlock(lockState(cur)).State)
		return nil
	})
	return err
}

// updateStatus applies fn and publishes the resulting status changes. It
// reports whether anything was written.
func (e *Engine) updateStatus(ctx context.Context, identityID, action string, fn func(*identity.Identity) error) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	before, after, err := identity.Mutate(ctx, e.store, identityID, fn)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			err = ErrIdentityNotFound
		} else {
			err = e.unavailable("account "+action, err, zap.String("identity_id", identityID))
		}
		e.emitAudit(ctx, auditEventAccountStatusChange, false, identityID, "", ClientInfo{}, err, func() map[string]string {
			return map[string]string{"action": action}
		})
		return false, err
	}
	if before.Version == after.Version {
		return false, nil
	}
	e.publishChanges(ctx, before, after, ClientInfo{})
	return true, nil
}
