package authcore

import "github.com/deskflow/authcore/internal/security"

type (
	SecurityReport       = security.Report
	PasswordConfigReport = security.PasswordReport
)

// SecurityReport summarizes the effective configuration. It carries no key
// material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:   cfg.JWT.SigningMethod,
		AccessTTL:          cfg.JWT.AccessTTL,
		RefreshTTL:         cfg.JWT.RefreshTTL,
		RememberAccessTTL:  cfg.JWT.RememberAccessTTL,
		RememberRefreshTTL: cfg.JWT.RememberRefreshTTL,
		Password: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		LockoutThreshold:         cfg.Lockout.Threshold,
		LockoutDuration:          cfg.Lockout.Duration,
		MaxSessionsPerIdentity:   cfg.Session.MaxPerIdentity,
		ThrottleConfigured:       cfg.Throttle.MaxPerIdentifier > 0 || cfg.Throttle.MaxPerIP > 0,
		LimiterAttached:          e.limiter != nil,
		EmailVerificationEnabled: cfg.EmailVerification.Enabled,
		RequireVerifiedEmail:     cfg.Account.RequireVerifiedEmail,
		PasswordResetEnabled:     cfg.PasswordReset.Enabled,
		ExternalEnabled:          cfg.External.Enabled,
		RegistrationEnabled:      cfg.Account.RegistrationEnabled,
	})
}
