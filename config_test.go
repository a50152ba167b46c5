package authcore

import (
	"strings"
	"testing"
	"time"

	"github.com/deskflow/authcore/identity/memstore"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.JWT.AccessTTL != 24*time.Hour || cfg.JWT.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected default ttls: %v / %v", cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	}
	if cfg.JWT.RememberAccessTTL != 30*24*time.Hour || cfg.JWT.RememberRefreshTTL != 60*24*time.Hour {
		t.Fatalf("unexpected remember-me ttls: %v / %v", cfg.JWT.RememberAccessTTL, cfg.JWT.RememberRefreshTTL)
	}
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Duration != 2*time.Hour {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Lockout)
	}
	if cfg.Session.MaxPerIdentity != 5 {
		t.Fatalf("unexpected session cap: %d", cfg.Session.MaxPerIdentity)
	}
	if cfg.PasswordReset.TokenTTL != time.Hour || cfg.EmailVerification.TokenTTL != 24*time.Hour {
		t.Fatal("unexpected single-use token ttls")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing keys", func(c *Config) { c.JWT.AccessPrivateKey = nil }, "private keys are required"},
		{"unknown method", func(c *Config) { c.JWT.SigningMethod = "rs256" }, "unsupported"},
		{"ed25519 without public keys", func(c *Config) { c.JWT.SigningMethod = "ed25519" }, "public keys"},
		{"zero access ttl", func(c *Config) { c.JWT.AccessTTL = 0 }, "AccessTTL"},
		{"remember shorter than default", func(c *Config) { c.JWT.RememberRefreshTTL = time.Hour }, "remember-me"},
		{"access beyond refresh", func(c *Config) { c.JWT.AccessTTL = 8 * 24 * time.Hour; c.JWT.RememberAccessTTL = 8 * 24 * time.Hour }, "must not exceed"},
		{"no session cap", func(c *Config) { c.Session.MaxPerIdentity = 0 }, "MaxPerIdentity"},
		{"zero threshold", func(c *Config) { c.Lockout.Threshold = 0 }, "threshold"},
		{"zero lock duration", func(c *Config) { c.Lockout.Duration = 0 }, "duration"},
		{"min above max", func(c *Config) { c.Password.MinLength = 300 }, "MinLength"},
		{"reset ttl", func(c *Config) { c.PasswordReset.TokenTTL = 0 }, "PasswordReset"},
		{"reset ttl ignored when disabled", func(c *Config) { c.PasswordReset.Enabled = false; c.PasswordReset.TokenTTL = 0 }, ""},
		{"external without token", func(c *Config) { c.External.Enabled = true }, "BotToken"},
		{"no default role", func(c *Config) { c.Account.DefaultRole = "" }, "DefaultRole"},
		{"negative throttle", func(c *Config) { c.Throttle.MaxPerIP = -1 }, "Throttle"},
		{"throttle without window", func(c *Config) { c.Throttle.Window = 0 }, "Window"},
		{"audit without buffer", func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }, "BufferSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errSub == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}

func TestBuildRejectsWeakSecrets(t *testing.T) {
	tests := []struct {
		name    string
		access  string
		refresh string
	}{
		{"short access", "too-short", "refresh-secret-refresh-secret-01"},
		{"shared secret", "same-secret-same-secret-same-sec", "same-secret-same-secret-same-sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.JWT.AccessPrivateKey = []byte(tt.access)
			cfg.JWT.RefreshPrivateKey = []byte(tt.refresh)
			if _, err := New().WithConfig(cfg).WithStore(memstore.New()).Build(); err == nil {
				t.Fatal("expected Build to fail")
			}
		})
	}
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected Build without store to fail")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithStore(memstore.New())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuildClonesKeyMaterial(t *testing.T) {
	cfg := testConfig()
	e, err := New().WithConfig(cfg).WithStore(memstore.New()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	cfg.JWT.AccessPrivateKey[0] ^= 0xff
	if e.config.JWT.AccessPrivateKey[0] == cfg.JWT.AccessPrivateKey[0] {
		t.Fatal("engine must hold its own copy of the keys")
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.External.Enabled = true
		c.External.BotToken = "123456:bot-token"
	})
	r := env.engine.SecurityReport()
	if r.SigningAlgorithm != "hs256" || r.LockoutThreshold != 5 || r.MaxSessionsPerIdentity != 5 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if !r.ExternalLoginActive || !r.PasswordResetActive {
		t.Fatalf("expected enabled flows in report: %+v", r)
	}
	// No redis client is attached in tests.
	if r.RequestThrottleActive || len(r.Warnings) == 0 {
		t.Fatalf("expected throttle inactive with warnings, got %+v", r)
	}
}
