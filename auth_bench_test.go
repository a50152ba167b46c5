package authcore

import (
	"context"
	"testing"
)

func BenchmarkValidateAccess(b *testing.B) {
	env := newTestEnv(b, func(c *Config) { c.Metrics.Enabled = false })
	env.seed(b, "alice@example.com")
	res := env.login(b, "alice@example.com", false)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.ValidateAccess(ctx, res.AccessToken); err != nil {
			b.Fatalf("ValidateAccess: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b, func(c *Config) { c.Metrics.Enabled = false })
	env.seed(b, "alice@example.com")
	res := env.login(b, "alice@example.com", false)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Refresh(ctx, res.RefreshToken); err != nil {
			b.Fatalf("Refresh: %v", err)
		}
	}
}

func BenchmarkLogin(b *testing.B) {
	env := newTestEnv(b, func(c *Config) { c.Metrics.Enabled = false })
	env.seed(b, "alice@example.com")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", testPassword, false, ClientInfo{}); err != nil {
			b.Fatalf("Login: %v", err)
		}
	}
}
