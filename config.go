package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/deskflow/authcore/jwt"
	"github.com/deskflow/authcore/lockout"
	"github.com/deskflow/authcore/password"
	"github.com/deskflow/authcore/session"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override; Build clones it, so later changes to the caller's copy have no
// effect.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Lockout           LockoutConfig
	Password          PasswordConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	External          ExternalConfig
	Account           AccountConfig
	Throttle          ThrottleConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds signing material and token lifetimes. Access and refresh
// tokens are signed with independent keys.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"

	// HS256 uses only the private halves as shared secrets.
	AccessPrivateKey  []byte
	AccessPublicKey   []byte
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte

	Issuer   string
	Audience string
	Leeway   time.Duration

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Remember-me lifetimes apply only when the caller asks for them.
	RememberAccessTTL  time.Duration
	RememberRefreshTTL time.Duration
}

/*
====================================
SESSION / LOCKOUT / PASSWORD
====================================
*/

type SessionConfig struct {
	MaxPerIdentity int
}

type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

type PasswordConfig struct {
	Memory        uint32 // in KB
	Time          uint32
	Parallelism   uint8
	SaltLength    uint32
	KeyLength     uint32
	MaxConcurrent int64

	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
SINGLE-USE TOKEN FLOWS
====================================
*/

type PasswordResetConfig struct {
	Enabled  bool
	TokenTTL time.Duration
}

type EmailVerificationConfig struct {
	Enabled  bool
	TokenTTL time.Duration
	// SendOnRegister issues a verification token right after Register.
	SendOnRegister bool
}

/*
====================================
EXTERNAL IDENTITY
====================================
*/

// ExternalConfig enables chat-platform login. Provisioned identities get the
// placeholder email PlaceholderPrefix + external id + "@" + PlaceholderDomain.
type ExternalConfig struct {
	Enabled           bool
	BotToken          string
	MaxAge            time.Duration
	PlaceholderPrefix string
	PlaceholderDomain string
	DefaultRole       string
}

type AccountConfig struct {
	RegistrationEnabled bool
	DefaultRole         string
	// RequireVerifiedEmail rejects password logins until the email is
	// verified.
	RequireVerifiedEmail bool
}

// ThrottleConfig bounds reset, verification and registration requests per
// email and per IP. It is enforced only when the engine has a Redis client.
type ThrottleConfig struct {
	RedisPrefix      string
	Window           time.Duration
	MaxPerIdentifier int
	MaxPerIP         int
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults without key material.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			SigningMethod:      string(jwt.MethodHS256),
			Issuer:             "authcore",
			AccessTTL:          24 * time.Hour,
			RefreshTTL:         7 * 24 * time.Hour,
			RememberAccessTTL:  30 * 24 * time.Hour,
			RememberRefreshTTL: 60 * 24 * time.Hour,
		},
		Session: SessionConfig{
			MaxPerIdentity: session.DefaultMaxSessions,
		},
		Lockout: LockoutConfig{
			Threshold: lockout.DefaultThreshold,
			Duration:  lockout.DefaultDuration,
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MaxConcurrent:  pw.MaxConcurrent,
			MinLength:      8,
			MaxLength:      256,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:  true,
			TokenTTL: time.Hour,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:        true,
			TokenTTL:       24 * time.Hour,
			SendOnRegister: true,
		},
		External: ExternalConfig{
			Enabled:           false,
			MaxAge:            24 * time.Hour,
			PlaceholderPrefix: "tg_",
			PlaceholderDomain: "users.noreply.local",
			DefaultRole:       "user",
		},
		Account: AccountConfig{
			RegistrationEnabled: true,
			DefaultRole:         "user",
		},
		Throttle: ThrottleConfig{
			RedisPrefix:      "authcore",
			Window:           15 * time.Minute,
			MaxPerIdentifier: 3,
			MaxPerIP:         20,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessPrivateKey = cloneBytes(cfg.JWT.AccessPrivateKey)
	out.JWT.AccessPublicKey = cloneBytes(cfg.JWT.AccessPublicKey)
	out.JWT.RefreshPrivateKey = cloneBytes(cfg.JWT.RefreshPrivateKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field constraints. Key material itself is checked by
// the token issuer when the engine is built.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.SigningMethod != string(jwt.MethodHS256) && c.JWT.SigningMethod != string(jwt.MethodEd25519) {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.AccessPrivateKey) == 0 || len(c.JWT.RefreshPrivateKey) == 0 {
		return errors.New("JWT access and refresh private keys are required")
	}
	if c.JWT.SigningMethod == string(jwt.MethodEd25519) &&
		(len(c.JWT.AccessPublicKey) == 0 || len(c.JWT.RefreshPublicKey) == 0) {
		return errors.New("ed25519 requires access and refresh public keys")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT AccessTTL and RefreshTTL must be > 0")
	}
	if c.JWT.RememberAccessTTL < c.JWT.AccessTTL || c.JWT.RememberRefreshTTL < c.JWT.RefreshTTL {
		return errors.New("JWT remember-me TTLs must not be shorter than the defaults")
	}
	if c.JWT.AccessTTL > c.JWT.RefreshTTL || c.JWT.RememberAccessTTL > c.JWT.RememberRefreshTTL {
		return errors.New("JWT access TTL must not exceed refresh TTL")
	}

	// Session / lockout
	if c.Session.MaxPerIdentity <= 0 {
		return errors.New("Session MaxPerIdentity must be > 0")
	}
	if err := c.lockoutPolicy().Validate(); err != nil {
		return err
	}

	// Password
	if err := c.hasherConfig().Validate(); err != nil {
		return err
	}
	if c.Password.MinLength <= 0 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MinLength must be > 0 and <= MaxLength")
	}

	// Single-use flows
	if c.PasswordReset.Enabled && c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.EmailVerification.Enabled && c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0")
	}

	// External
	if c.External.Enabled {
		if strings.TrimSpace(c.External.BotToken) == "" {
			return errors.New("External BotToken is required when enabled")
		}
		if c.External.PlaceholderDomain == "" {
			return errors.New("External PlaceholderDomain is required when enabled")
		}
		if c.External.DefaultRole == "" {
			return errors.New("External DefaultRole is required when enabled")
		}
	}

	if c.Account.DefaultRole == "" {
		return errors.New("Account DefaultRole is required")
	}

	if c.Throttle.MaxPerIdentifier < 0 || c.Throttle.MaxPerIP < 0 {
		return errors.New("Throttle limits must be >= 0")
	}
	if (c.Throttle.MaxPerIdentifier > 0 || c.Throttle.MaxPerIP > 0) && c.Throttle.Window <= 0 {
		return errors.New("Throttle Window must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}

func (c *Config) lockoutPolicy() lockout.Policy {
	return lockout.Policy{Threshold: c.Lockout.Threshold, Duration: c.Lockout.Duration}
}

func (c *Config) hasherConfig() password.Config {
	return password.Config{
		Memory:        c.Password.Memory,
		Time:          c.Password.Time,
		Parallelism:   c.Password.Parallelism,
		SaltLength:    c.Password.SaltLength,
		KeyLength:     c.Password.KeyLength,
		MaxConcurrent: c.Password.MaxConcurrent,
	}
}

func (c *Config) issuerConfig() jwt.Config {
	return jwt.Config{
		SigningMethod: jwt.SigningMethod(c.JWT.SigningMethod),
		Access:        jwt.KeyPair{Private: c.JWT.AccessPrivateKey, Public: c.JWT.AccessPublicKey},
		Refresh:       jwt.KeyPair{Private: c.JWT.RefreshPrivateKey, Public: c.JWT.RefreshPublicKey},
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
	}
}

// ttls returns the access and refresh lifetimes for a login.
func (c *Config) ttls(remember bool) (access, refresh time.Duration) {
	if remember {
		return c.JWT.RememberAccessTTL, c.JWT.RememberRefreshTTL
	}
	return c.JWT.AccessTTL, c.JWT.RefreshTTL
}
