package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/jwt"
	"github.com/deskflow/authcore/session"
)

// Refresh mints a new access token for a live session. The refresh token must
// verify cryptographically and still be in the identity's session list; a
// signed, unexpired token whose session was revoked fails with
// ErrTokenRevoked. An expired session is purged before ErrTokenExpired is
// returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.issuer.Verify(refreshToken, jwt.PurposeRefresh)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", "", mapTokenError(err))
	}

	ident, s, err := e.sessions.Check(ctx, claims.Subject, refreshToken)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, session.ErrNotFound):
		e.metricInc(MetricRefreshRevoked)
		return nil, e.refreshFailed(ctx, claims.Subject, "", ErrTokenRevoked)
	case errors.Is(err, session.ErrExpired):
		return nil, e.refreshFailed(ctx, claims.Subject, sessionID(s), ErrTokenExpired)
	default:
		return nil, e.unavailable("refresh session check", err, zap.String("identity_id", claims.Subject))
	}
	if !ident.Active {
		return nil, e.refreshFailed(ctx, ident.ID, s.ID, ErrAccountInactive)
	}

	accessTTL, _ := e.config.ttls(claims.Remember)
	access, err := e.issuer.IssueAccess(ident.ID, ident.Role, claims.Remember, accessTTL)
	if err != nil {
		return nil, e.unavailable("token issue", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, ident.ID, s.ID, ClientInfo{}, nil, nil)
	return &RefreshResult{
		AccessToken: access.Value,
		ExpiresIn:   access.ExpiresAt.Sub(access.IssuedAt),
	}, nil
}

func (e *Engine) refreshFailed(ctx context.Context, id, sid string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, id, sid, ClientInfo{}, err, nil)
	return err
}

func sessionID(s *identity.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// Logout revokes the session named by refreshToken. It succeeds for an
// already revoked session or an expired token, so it is safe to retry;
// only tokens that are not ours fail.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	claims, err := e.issuer.ParseRefreshForRevocation(refreshToken)
	if err != nil {
		return mapTokenError(err)
	}

	removed, err := e.sessions.Revoke(ctx, claims.Subject, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		return e.unavailable("logout", err, zap.String("identity_id", claims.Subject))
	}
	if removed {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogoutSession, true, claims.Subject, "", ClientInfo{}, nil, nil)
	}
	return nil
}

// LogoutAll revokes every session of identityID. Unknown identities and
// identities without sessions succeed.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	n, err := e.sessions.RevokeAll(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		return e.unavailable("logout all", err, zap.String("identity_id", identityID))
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, identityID, "", ClientInfo{}, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return nil
}

// Sessions lists the unexpired sessions of identityID, oldest first.
func (e *Engine) Sessions(ctx context.Context, identityID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ident, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, e.unavailable("list sessions", err, zap.String("identity_id", identityID))
	}

	now := e.now()
	out := make([]SessionInfo, 0, len(ident.Sessions))
	for _, s := range ident.Sessions {
		if !now.Before(s.ExpiresAt) {
			continue
		}
		out = append(out, SessionInfo{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			UserAgent: s.UserAgent,
			IP:        s.IP,
		})
	}
	return out, nil
}

// ValidateAccess verifies a bearer access token and checks that its identity
// still exists and is active. Refresh tokens fail with ErrTokenWrongPurpose.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.issuer.Verify(accessToken, jwt.PurposeAccess)
	if err != nil {
		return nil, mapTokenError(err)
	}
	ident, err := e.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrTokenRevoked
		}
		return nil, e.unavailable("validate access", err, zap.String("identity_id", claims.Subject))
	}
	if !ident.Active {
		return nil, ErrAccountInactive
	}

	res := &AuthResult{IdentityID: ident.ID, Role: ident.Role}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}
