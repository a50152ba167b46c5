// Package appconfig loads process configuration for cmd/authcore-server from
// an optional YAML file and AUTHCORE_* environment variables.
package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/deskflow/authcore"
)

const envPrefix = "AUTHCORE"

type AppConfig struct {
	App      AppSettings      `mapstructure:"app"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Store    StoreSettings    `mapstructure:"store"`
	Redis    RedisSettings    `mapstructure:"redis"`
	JWT      JWTSettings      `mapstructure:"jwt"`
	Lockout  LockoutSettings  `mapstructure:"lockout"`
	Session  SessionSettings  `mapstructure:"session"`
	External ExternalSettings `mapstructure:"external"`
	Throttle ThrottleSettings `mapstructure:"throttle"`
	Audit    AuditSettings    `mapstructure:"audit"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
}

type AppSettings struct {
	Env             string        `mapstructure:"env"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type HTTPSettings struct {
	CookieInsecure bool    `mapstructure:"cookie_insecure"`
	CookieDomain   string  `mapstructure:"cookie_domain"`
	TrustProxy     bool    `mapstructure:"trust_proxy"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
}

// StoreSettings selects the identity backend: memory, redis or postgres.
type StoreSettings struct {
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Migrate     bool   `mapstructure:"migrate"`
}

// RedisSettings configures the client used by the redis store and the
// request throttle. An empty Addr starts an in-process miniredis.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// JWTSettings holds hs256 secrets inline, or paths to ed25519 PEM keys.
type JWTSettings struct {
	SigningMethod         string        `mapstructure:"signing_method"`
	AccessSecret          string        `mapstructure:"access_secret"`
	RefreshSecret         string        `mapstructure:"refresh_secret"`
	AccessPrivateKeyFile  string        `mapstructure:"access_private_key_file"`
	AccessPublicKeyFile   string        `mapstructure:"access_public_key_file"`
	RefreshPrivateKeyFile string        `mapstructure:"refresh_private_key_file"`
	RefreshPublicKeyFile  string        `mapstructure:"refresh_public_key_file"`
	Issuer                string        `mapstructure:"issuer"`
	Audience              string        `mapstructure:"audience"`
	AccessTTL             time.Duration `mapstructure:"access_ttl"`
	RefreshTTL            time.Duration `mapstructure:"refresh_ttl"`
}

type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

type SessionSettings struct {
	MaxPerIdentity int `mapstructure:"max_per_identity"`
}

type ExternalSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type ThrottleSettings struct {
	Window           time.Duration `mapstructure:"window"`
	MaxPerIdentifier int           `mapstructure:"max_per_identifier"`
	MaxPerIP         int           `mapstructure:"max_per_ip"`
}

type AuditSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsSettings controls the OpenTelemetry bridge. Zero OTelLogInterval
// leaves it off; Prometheus is always served on /metrics.
type MetricsSettings struct {
	OTelLogInterval time.Duration `mapstructure:"otel_log_interval"`
}

// LoadDotEnv loads .env style files into the environment. Missing files are
// skipped; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path (if non-empty) and the environment. Environment variables
// use the AUTHCORE_ prefix with '.' replaced by '_', e.g.
// AUTHCORE_JWT_ACCESS_SECRET.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := bindEnvs(v, v.AllKeys()); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := authcore.DefaultConfig()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.shutdown_timeout", "10s")

	v.SetDefault("http.cookie_insecure", false)
	v.SetDefault("http.cookie_domain", "")
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.rate_limit", 5.0)
	v.SetDefault("http.rate_burst", 20)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", def.Throttle.RedisPrefix)

	v.SetDefault("jwt.signing_method", def.JWT.SigningMethod)
	v.SetDefault("jwt.access_secret", "")
	v.SetDefault("jwt.refresh_secret", "")
	v.SetDefault("jwt.access_private_key_file", "")
	v.SetDefault("jwt.access_public_key_file", "")
	v.SetDefault("jwt.refresh_private_key_file", "")
	v.SetDefault("jwt.refresh_public_key_file", "")
	v.SetDefault("jwt.issuer", def.JWT.Issuer)
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", def.JWT.RefreshTTL)

	v.SetDefault("lockout.threshold", def.Lockout.Threshold)
	v.SetDefault("lockout.duration", def.Lockout.Duration)

	v.SetDefault("session.max_per_identity", def.Session.MaxPerIdentity)

	v.SetDefault("external.enabled", false)
	v.SetDefault("external.bot_token", "")
	v.SetDefault("external.max_age", def.External.MaxAge)

	v.SetDefault("throttle.window", def.Throttle.Window)
	v.SetDefault("throttle.max_per_identifier", def.Throttle.MaxPerIdentifier)
	v.SetDefault("throttle.max_per_ip", def.Throttle.MaxPerIP)

	v.SetDefault("audit.enabled", true)

	v.SetDefault("metrics.otel_log_interval", "0s")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func (c *AppConfig) validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.App.ShutdownTimeout <= 0 {
		return errors.New("app.shutdown_timeout must be > 0")
	}
	if c.Metrics.OTelLogInterval < 0 {
		return errors.New("metrics.otel_log_interval must be >= 0")
	}
	return nil
}

// EngineConfig maps c onto authcore defaults. Key files are read here.
func (c *AppConfig) EngineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	cfg.JWT.SigningMethod = c.JWT.SigningMethod
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	if c.JWT.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	}

	switch c.JWT.SigningMethod {
	case "ed25519":
		var err error
		files := []struct {
			path string
			dst  *[]byte
		}{
			{c.JWT.AccessPrivateKeyFile, &cfg.JWT.AccessPrivateKey},
			{c.JWT.AccessPublicKeyFile, &cfg.JWT.AccessPublicKey},
			{c.JWT.RefreshPrivateKeyFile, &cfg.JWT.RefreshPrivateKey},
			{c.JWT.RefreshPublicKeyFile, &cfg.JWT.RefreshPublicKey},
		}
		for _, f := range files {
			if f.path == "" {
				continue
			}
			if *f.dst, err = os.ReadFile(f.path); err != nil {
				return authcore.Config{}, fmt.Errorf("read key: %w", err)
			}
		}
	default:
		cfg.JWT.AccessPrivateKey = []byte(c.JWT.AccessSecret)
		cfg.JWT.RefreshPrivateKey = []byte(c.JWT.RefreshSecret)
	}

	cfg.Lockout.Threshold = c.Lockout.Threshold
	cfg.Lockout.Duration = c.Lockout.Duration
	cfg.Session.MaxPerIdentity = c.Session.MaxPerIdentity

	cfg.External.Enabled = c.External.Enabled
	cfg.External.BotToken = c.External.BotToken
	cfg.External.MaxAge = c.External.MaxAge

	cfg.Throttle.RedisPrefix = c.Redis.Prefix
	cfg.Throttle.Window = c.Throttle.Window
	cfg.Throttle.MaxPerIdentifier = c.Throttle.MaxPerIdentifier
	cfg.Throttle.MaxPerIP = c.Throttle.MaxPerIP

	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	if err := cfg.Validate(); err != nil {
		return authcore.Config{}, err
	}
	return cfg, nil
}
