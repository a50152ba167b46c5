package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Report struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	RememberAccessTTL       time.Duration
	RememberRefreshTTL      time.Duration
	Argon2                  PasswordReport
	LockoutThreshold        int
	LockoutDuration         time.Duration
	MaxSessionsPerIdentity  int
	RequestThrottleActive   bool
	EmailVerificationActive bool
	VerifiedEmailRequired   bool
	PasswordResetActive     bool
	ExternalLoginActive     bool
	RegistrationOpen        bool
	// Warnings lists settings that are valid but weaker than recommended.
	Warnings []string
}

type ReportInput struct {
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	RememberAccessTTL      time.Duration
	RememberRefreshTTL     time.Duration
	Password               PasswordReport
	LockoutThreshold       int
	LockoutDuration        time.Duration
	MaxSessionsPerIdentity int

	// ThrottleConfigured is true when limits are set; LimiterAttached when
	// the engine has a Redis client to enforce them.
	ThrottleConfigured bool
	LimiterAttached    bool

	EmailVerificationEnabled bool
	RequireVerifiedEmail     bool
	PasswordResetEnabled     bool
	ExternalEnabled          bool
	RegistrationEnabled      bool
}

const recommendedMemoryKB = 64 * 1024

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:        input.SigningAlgorithm,
		AccessTTL:               input.AccessTTL,
		RefreshTTL:              input.RefreshTTL,
		RememberAccessTTL:       input.RememberAccessTTL,
		RememberRefreshTTL:      input.RememberRefreshTTL,
		Argon2:                  input.Password,
		LockoutThreshold:        input.LockoutThreshold,
		LockoutDuration:         input.LockoutDuration,
		MaxSessionsPerIdentity:  input.MaxSessionsPerIdentity,
		RequestThrottleActive:   input.ThrottleConfigured && input.LimiterAttached,
		EmailVerificationActive: input.EmailVerificationEnabled,
		VerifiedEmailRequired:   input.EmailVerificationEnabled && input.RequireVerifiedEmail,
		PasswordResetActive:     input.PasswordResetEnabled,
		ExternalLoginActive:     input.ExternalEnabled,
		RegistrationOpen:        input.RegistrationEnabled,
	}

	if input.Password.Memory < recommendedMemoryKB {
		r.Warnings = append(r.Warnings, "argon2 memory below 64 MiB")
	}
	if input.ThrottleConfigured && !input.LimiterAttached {
		r.Warnings = append(r.Warnings, "request throttling configured but no redis client attached")
	}
	if input.RequireVerifiedEmail && !input.EmailVerificationEnabled {
		r.Warnings = append(r.Warnings, "verified email required but verification mail disabled")
	}
	return r
}
