package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal/logging"
	"github.com/deskflow/authcore/lockout"
	"github.com/deskflow/authcore/password"
	"github.com/deskflow/authcore/session"
)

// Login verifies email and password and establishes a session.
//
// Failures are *AuthError values wrapping ErrInvalidCredentials (with the
// attempts left before lockout) or ErrAccountLocked (with the time left).
// The attempt that reaches the lockout threshold is itself reported as
// ErrAccountLocked and revokes every session of the identity. While locked,
// even the correct password is rejected; the first attempt after the lock
// lapses is evaluated normally. rememberMe selects the long token lifetimes.
func (e *Engine) Login(ctx context.Context, email, pw string, rememberMe bool, client ClientInfo) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	ident, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			e.hasher.VerifyDummy(ctx, pw)
			return nil, e.loginFailed(ctx, "", client, &AuthError{Err: ErrInvalidCredentials}, "unknown_identity")
		}
		return nil, e.unavailable("login lookup", err, logging.Email(email))
	}
	if ident.PasswordHash == "" {
		e.hasher.VerifyDummy(ctx, pw)
		return nil, e.loginFailed(ctx, ident.ID, client, &AuthError{Err: ErrInvalidCredentials}, "no_password")
	}

	gate := e.lockout.Gate(lockState(ident), e.now())
	if gate.Outcome == lockout.Locked {
		e.metricInc(MetricLoginLockedOut)
		return nil, e.loginFailed(ctx, ident.ID, client, accountLocked(gate), "locked")
	}

	ok, err := e.hasher.Verify(ctx, pw, ident.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrUnsupportedDigest) {
			return nil, e.unavailable("password verify", err, zap.String("identity_id", ident.ID))
		}
		return nil, e.unavailable("password verify", err)
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, ident.ID, client)
	}

	if !ident.Active {
		e.metricInc(MetricLoginInactive)
		return nil, e.loginFailed(ctx, ident.ID, client, ErrAccountInactive, "inactive")
	}
	if e.config.Account.RequireVerifiedEmail && !ident.EmailVerified {
		e.metricInc(MetricLoginInactive)
		return nil, e.loginFailed(ctx, ident.ID, client, ErrAccountInactive, "unverified")
	}

	upgraded := e.rehash(ctx, ident, pw)

	access, refresh, err := e.issuePair(ident, rememberMe)
	if err != nil {
		return nil, e.unavailable("token issue", err)
	}

	var (
		created identity.Session
		evicted []identity.Session
	)
	before, after, err := identity.Mutate(ctx, e.store, ident.ID, func(cur *identity.Identity) error {
		if !cur.Active {
			return ErrAccountInactive
		}
		if cur.PasswordHash != ident.PasswordHash {
			// Password changed between verify and write.
			return ErrInvalidCredentials
		}
		if d := e.lockout.Gate(lockState(cur), e.now()); d.Outcome == lockout.Locked {
			return accountLocked(d)
		}
		applyLockState(cur, e.lockout.RecordSuccess(lockState(cur)).State)
		if upgraded != "" {
			cur.PasswordHash = upgraded
		}
		created, evicted = session.Add(cur, refresh.Value, refresh.ExpiresAt, client, e.now(), e.sessions.Max())
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountInactive), errors.Is(err, ErrAccountLocked):
			return nil, e.loginFailed(ctx, ident.ID, client, err, "concurrent_change")
		case errors.Is(err, ErrInvalidCredentials):
			return nil, e.loginFailed(ctx, ident.ID, client, &AuthError{Err: ErrInvalidCredentials}, "concurrent_change")
		}
		return nil, e.unavailable("login write", err, zap.String("identity_id", ident.ID))
	}

	if upgraded != "" {
		e.metricInc(MetricPasswordRehash)
	}
	e.sessionsCreated(ctx, after.ID, evicted, client)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, after.ID, created.ID, client, nil, func() map[string]string {
		if rememberMe {
			return map[string]string{"remember_me": "true"}
		}
		return nil
	})
	if before.LockUntil != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, true, after.ID, "", client, nil, func() map[string]string {
			return map[string]string{"change": string(identity.ChangeUnlocked)}
		})
	}

	return e.loginResult(after, access, refresh, created), nil
}

// recordLoginFailure persists one failed attempt and returns the error the
// caller sees.
func (e *Engine) recordLoginFailure(ctx context.Context, id string, client ClientInfo) error {
	var decision lockout.Decision
	before, after, err := identity.Mutate(ctx, e.store, id, func(cur *identity.Identity) error {
		now := e.now()
		gate := e.lockout.Gate(lockState(cur), now)
		if gate.Outcome == lockout.Locked {
			// Another attempt locked the account first.
			decision = gate
			return identity.ErrNoChange
		}
		decision = e.lockout.RecordFailure(gate.State, now)
		applyLockState(cur, decision.State)
		if decision.Outcome == lockout.Locked {
			session.RevokeAll(cur)
		}
		return nil
	})
	if err != nil {
		return e.unavailable("login failure write", err, zap.String("identity_id", id))
	}

	if decision.Outcome == lockout.Locked {
		if before.Version != after.Version {
			e.publishChanges(ctx, before, after, client)
		}
		return e.loginFailed(ctx, id, client, accountLocked(decision), "threshold")
	}
	return e.loginFailed(ctx, id, client, invalidCredentials(decision.AttemptsRemaining), "bad_password")
}

func (e *Engine) loginFailed(ctx context.Context, id string, client ClientInfo, err error, reason string) error {
	if !errors.Is(err, ErrAccountLocked) && !errors.Is(err, ErrAccountInactive) {
		e.metricInc(MetricLoginFailure)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, id, "", client, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

// rehash returns a fresh digest when the stored one uses a legacy algorithm
// or weaker parameters. Failures only cost the upgrade.
func (e *Engine) rehash(ctx context.Context, ident *identity.Identity, pw string) string {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(ident.PasswordHash) {
		return ""
	}
	digest, err := e.hasher.Hash(ctx, pw)
	if err != nil {
		e.log.Warn("password rehash failed", zap.String("identity_id", ident.ID), zap.Error(err))
		return ""
	}
	return digest
}

// sessionsCreated counts a new session and audits the ones it evicted.
func (e *Engine) sessionsCreated(ctx context.Context, id string, evicted []identity.Session, client ClientInfo) {
	e.metricInc(MetricSessionCreated)
	for _, s := range evicted {
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, id, s.ID, client, nil, nil)
	}
}
