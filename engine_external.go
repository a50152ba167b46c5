package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskflow/authcore/external"
	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/session"
)

// AuthenticateExternal signs in with a chat-platform login proof.
//
// The identity is resolved by external id, then by a declared external
// username not yet bound to any id (the id is bound to it), and otherwise a
// new identity is provisioned with a placeholder email and no password. A
// username already bound to a different id fails with ErrIdentityConflict.
// The password and lockout checks do not apply to this path.
func (e *Engine) AuthenticateExternal(ctx context.Context, proof external.Proof, rememberMe bool, client ClientInfo) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.external == nil {
		return nil, ErrExternalDisabled
	}

	claims, err := e.external.Verify(proof)
	if err != nil {
		reason := "invalid_proof"
		if errors.Is(err, external.ErrStaleProof) {
			reason = "stale_proof"
		}
		return nil, e.externalFailed(ctx, "", client, ErrInvalidCredentials, reason)
	}

	ident, provisioned, err := e.resolveExternal(ctx, claims)
	if err != nil {
		if errors.Is(err, ErrIdentityConflict) {
			return nil, e.externalFailed(ctx, "", client, err, "username_bound")
		}
		return nil, e.unavailable("external resolve", err, zap.String("external_id", claims.ID))
	}
	if !ident.Active {
		return nil, e.externalFailed(ctx, ident.ID, client, ErrAccountInactive, "inactive")
	}

	access, refresh, err := e.issuePair(ident, rememberMe)
	if err != nil {
		return nil, e.unavailable("token issue", err)
	}

	var (
		created identity.Session
		evicted []identity.Session
	)
	takeUsername := e.usernameAvailable(ctx, ident, claims.Username)
	write := func(cur *identity.Identity) error {
		if !cur.Active {
			return ErrAccountInactive
		}
		switch cur.ExternalID {
		case "":
			cur.ExternalID = claims.ID
		case claims.ID:
		default:
			return ErrIdentityConflict
		}
		if takeUsername {
			cur.ExternalUsername = claims.Username
		}
		created, evicted = session.Add(cur, refresh.Value, refresh.ExpiresAt, client, e.now(), e.sessions.Max())
		return nil
	}
	before, after, err := identity.Mutate(ctx, e.store, ident.ID, write)
	if errors.Is(err, identity.ErrDuplicate) && takeUsername {
		// Another identity claimed the username since the check above.
		takeUsername = false
		before, after, err = identity.Mutate(ctx, e.store, ident.ID, write)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountInactive):
			return nil, e.externalFailed(ctx, ident.ID, client, err, "inactive")
		case errors.Is(err, ErrIdentityConflict):
			return nil, e.externalFailed(ctx, ident.ID, client, err, "concurrent_bind")
		case errors.Is(err, identity.ErrDuplicate):
			return nil, e.externalFailed(ctx, ident.ID, client, ErrIdentityConflict, "external_id_bound")
		}
		return nil, e.unavailable("external login write", err, zap.String("identity_id", ident.ID))
	}

	e.sessionsCreated(ctx, after.ID, evicted, client)
	e.metricInc(MetricExternalLoginSuccess)
	e.emitAudit(ctx, auditEventExternalLogin, true, after.ID, created.ID, client, nil, func() map[string]string {
		if provisioned {
			return map[string]string{"provisioned": "true"}
		}
		return nil
	})
	e.publishChanges(ctx, before, after, client)

	res := e.loginResult(after, access, refresh, created)
	res.Provisioned = provisioned
	return res, nil
}

// usernameAvailable reports whether ident may record username as its external
// username. A username declared on another identity stays there.
func (e *Engine) usernameAvailable(ctx context.Context, ident *identity.Identity, username string) bool {
	if username == "" || identity.NormalizeUsername(username) == ident.ExternalUsername {
		return false
	}
	owner, err := e.store.FindByExternalUsername(ctx, username)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return true
	case err != nil:
		e.log.Warn("external username lookup failed", zap.Error(err))
		return false
	}
	return owner.ID == ident.ID
}

// resolveExternal finds or provisions the identity for claims.
func (e *Engine) resolveExternal(ctx context.Context, claims *external.Claims) (*identity.Identity, bool, error) {
	ident, err := e.store.FindByExternalID(ctx, claims.ID)
	if err == nil {
		return ident, false, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, false, err
	}

	if claims.Username != "" {
		ident, err = e.store.FindByExternalUsername(ctx, claims.Username)
		switch {
		case err == nil:
			if ident.ExternalID != "" && ident.ExternalID != claims.ID {
				return nil, false, ErrIdentityConflict
			}
			return ident, false, nil
		case !errors.Is(err, identity.ErrNotFound):
			return nil, false, err
		}
	}

	ident, err = e.provisionExternal(ctx, claims)
	if errors.Is(err, identity.ErrDuplicate) {
		// Lost a race with a concurrent first login.
		ident, err = e.store.FindByExternalID(ctx, claims.ID)
		if errors.Is(err, identity.ErrNotFound) {
			return nil, false, ErrIdentityConflict
		}
		return ident, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return ident, true, nil
}

func (e *Engine) provisionExternal(ctx context.Context, claims *external.Claims) (*identity.Identity, error) {
	cfg := e.config.External
	now := e.now().UTC().Truncate(time.Millisecond)
	ident := &identity.Identity{
		ID:               uuid.NewString(),
		Email:            cfg.PlaceholderPrefix + claims.ID + "@" + cfg.PlaceholderDomain,
		Role:             cfg.DefaultRole,
		Active:           true,
		ExternalID:       claims.ID,
		ExternalUsername: claims.Username,
		CreatedAt:        now,
	}
	if err := e.store.Create(ctx, ident); err != nil {
		return nil, err
	}
	e.metricInc(MetricExternalProvisioned)
	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreation, true, ident.ID, "", ClientInfo{}, nil, func() map[string]string {
		return map[string]string{"via": "external"}
	})
	return ident, nil
}

func (e *Engine) externalFailed(ctx context.Context, id string, client ClientInfo, err error, reason string) error {
	e.metricInc(MetricExternalLoginFailure)
	e.emitAudit(ctx, auditEventExternalLogin, false, id, "", client, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}
