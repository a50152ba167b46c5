package authcore

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/internal/limiters"
	"github.com/deskflow/authcore/internal/logging"
)

// Register creates an active password identity. A taken email fails with
// ErrIdentityConflict. When verification mail is enabled a token is sent
// right away; a failed delivery does not undo the registration.
func (e *Engine) Register(ctx context.Context, req RegisterRequest, client ClientInfo) (*RegisterResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.Account.RegistrationEnabled {
		return nil, ErrFeatureDisabled
	}

	email := identity.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, e.registerFailed(ctx, client, ErrInvalidEmail, "invalid_email")
	}
	if err := e.checkPassword(req.Password); err != nil {
		return nil, e.registerFailed(ctx, client, err, "password_policy")
	}
	if err := e.throttle(ctx, limiters.ActionRegister, email, client); err != nil {
		return nil, err
	}

	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = e.config.Account.DefaultRole
	}

	digest, err := e.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, e.unavailable("password hash", err)
	}

	ident := &identity.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: digest,
		Role:         role,
		Active:       true,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.Create(ctx, ident); err != nil {
		if errors.Is(err, identity.ErrDuplicate) {
			e.metricInc(MetricAccountCreationDuplicate)
			return nil, e.registerFailed(ctx, client, ErrIdentityConflict, "duplicate")
		}
		return nil, e.unavailable("register", err, logging.Email(email))
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreation, true, ident.ID, "", client, nil, func() map[string]string {
		return map[string]string{"via": "password", "role": role}
	})

	res := &RegisterResult{IdentityID: ident.ID}
	if e.config.EmailVerification.Enabled && e.config.EmailVerification.SendOnRegister {
		if err := e.sendVerification(ctx, ident, client); err != nil {
			e.log.Warn("verification after register failed", zap.String("identity_id", ident.ID), zap.Error(err))
		} else {
			res.VerificationSent = true
		}
	}
	return res, nil
}

func (e *Engine) registerFailed(ctx context.Context, client ClientInfo, err error, reason string) error {
	e.emitAudit(ctx, auditEventAccountCreation, false, "", "", client, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

// validEmail accepts a bare addr-spec.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
