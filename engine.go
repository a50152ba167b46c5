package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/authcore/external"
	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal/audit"
	"github.com/deskflow/authcore/internal/limiters"
	"github.com/deskflow/authcore/internal/logging"
	"github.com/deskflow/authcore/jwt"
	"github.com/deskflow/authcore/lockout"
	"github.com/deskflow/authcore/session"
	"github.com/deskflow/authcore/singleuse"
)

// Engine runs the authentication and session lifecycle. It is safe for
// concurrent use once built. All per-identity state lives on the identity
// record; the engine itself holds no mutable state besides metrics and the
// audit dispatcher.
type Engine struct {
	config    Config
	store     *identity.Adapter
	hasher    passwordHasher
	lockout   lockout.Policy
	issuer    *jwt.Issuer
	sessions  *session.Manager
	singleUse *singleuse.Manager
	external  *external.Verifier
	limiter   *limiters.RequestLimiter
	notifier  Notifier
	audit     *audit.Dispatcher
	metrics   *Metrics
	log       *zap.Logger
	now       func() time.Time
}

// passwordHasher is the part of *password.Hasher the engine uses.
type passwordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
	VerifyDummy(ctx context.Context, plaintext string)
	NeedsUpgrade(digest string) bool
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped counts audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters. It returns empty maps when
// metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the identity store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return e.unavailable("ping", err)
	}
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.issuer == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// unavailable logs an infrastructure failure and hides it behind
// ErrUnavailable. Context cancellation passes through unchanged.
func (e *Engine) unavailable(op string, err error, fields ...zap.Field) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, identity.ErrConflict) {
		e.metricInc(MetricStoreConflict)
	}
	e.log.Error(op+" failed", append(fields, zap.Error(err))...)
	return ErrUnavailable
}

// checkPassword enforces the length policy on a new password.
func (e *Engine) checkPassword(pw string) error {
	n := len([]rune(pw))
	if strings.TrimSpace(pw) == "" || n < e.config.Password.MinLength || n > e.config.Password.MaxLength {
		return ErrPasswordPolicy
	}
	return nil
}

// destination returns where to deliver mail for ident. Placeholder
// addresses of provisioned external identities are not deliverable.
func (e *Engine) destination(ident *identity.Identity) (string, bool) {
	if ident == nil || ident.Email == "" {
		return "", false
	}
	if d := e.config.External.PlaceholderDomain; d != "" && strings.HasSuffix(ident.Email, "@"+d) {
		return "", false
	}
	return ident.Email, true
}

// deliver hands d to the notifier. Failures are logged and counted.
func (e *Engine) deliver(ctx context.Context, d Delivery) error {
	if err := e.notifier.Deliver(ctx, d); err != nil {
		e.metricInc(MetricDeliveryFailure)
		e.log.Warn("delivery failed",
			logging.Email(d.Destination),
			zap.String("purpose", string(d.Purpose)),
			zap.Error(err),
		)
		return errors.Join(ErrDeliveryFailed, err)
	}
	return nil
}

// throttle applies the request limiter. A limiter outage is logged and the
// request allowed.
func (e *Engine) throttle(ctx context.Context, action limiters.Action, identifier string, client ClientInfo) error {
	err := e.limiter.Check(ctx, action, identifier, client.IP)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRequestRateLimited):
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventRateLimited, false, "", "", client, ErrRateLimited, func() map[string]string {
			return map[string]string{"action": string(action)}
		})
		return ErrRateLimited
	default:
		e.log.Warn("request limiter unavailable", zap.String("action", string(action)), zap.Error(err))
		return nil
	}
}

func lockState(ident *identity.Identity) lockout.State {
	return lockout.State{Attempts: ident.FailedAttempts, LockUntil: ident.LockUntil}
}

func applyLockState(ident *identity.Identity, s lockout.State) {
	ident.FailedAttempts = s.Attempts
	ident.LockUntil = s.LockUntil
}

// issuePair mints an access and a refresh token for ident.
func (e *Engine) issuePair(ident *identity.Identity, remember bool) (access, refresh jwt.Token, err error) {
	accessTTL, refreshTTL := e.config.ttls(remember)
	access, err = e.issuer.IssueAccess(ident.ID, ident.Role, remember, accessTTL)
	if err != nil {
		return jwt.Token{}, jwt.Token{}, err
	}
	refresh, err = e.issuer.IssueRefresh(ident.ID, ident.Role, remember, refreshTTL)
	if err != nil {
		return jwt.Token{}, jwt.Token{}, err
	}
	return access, refresh, nil
}

func (e *Engine) loginResult(ident *identity.Identity, access, refresh jwt.Token, s identity.Session) *LoginResult {
	return &LoginResult{
		IdentityID:       ident.ID,
		Role:             ident.Role,
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		ExpiresIn:        access.ExpiresAt.Sub(access.IssuedAt),
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        s.ID,
	}
}

// mapTokenError translates issuer errors to engine sentinels.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrWrongPurpose):
		return ErrTokenWrongPurpose
	default:
		return ErrTokenMalformed
	}
}
