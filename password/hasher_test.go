package password

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	return Config{
		Memory:        8 * 1024,
		Time:          1,
		Parallelism:   1,
		SaltLength:    16,
		KeyLength:     32,
		MaxConcurrent: 2,
	}
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	digest, err := h.Hash(ctx, "correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", digest)
	}

	ok, err := h.Verify(ctx, "correct horse battery", digest)
	if err != nil || !ok {
		t.Fatalf("Verify correct = %v, %v", ok, err)
	}
	ok, err = h.Verify(ctx, "wrong horse battery", digest)
	if err != nil || ok {
		t.Fatalf("Verify wrong = %v, %v", ok, err)
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newTestHasher(t, testConfig())
	a, _ := h.Hash(context.Background(), "same-password")
	b, _ := h.Hash(context.Background(), "same-password")
	if a == b {
		t.Fatal("expected distinct digests for the same password")
	}
}

func TestHashRejectsEmpty(t *testing.T) {
	h := newTestHasher(t, testConfig())
	if _, err := h.Hash(context.Background(), ""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	h := newTestHasher(t, testConfig())
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify(context.Background(), "legacy-secret", string(legacy))
	if err != nil || !ok {
		t.Fatalf("Verify bcrypt = %v, %v", ok, err)
	}
	ok, err = h.Verify(context.Background(), "other", string(legacy))
	if err != nil || ok {
		t.Fatalf("Verify bcrypt mismatch = %v, %v", ok, err)
	}
	if !h.NeedsUpgrade(string(legacy)) {
		t.Fatal("expected bcrypt digest to need upgrade")
	}
}

func TestNeedsUpgradeOnWeakerParameters(t *testing.T) {
	weak := newTestHasher(t, testConfig())
	digest, err := weak.Hash(context.Background(), "upgrade-me")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	strongCfg := testConfig()
	strongCfg.Time = 2
	strong := newTestHasher(t, strongCfg)

	if weak.NeedsUpgrade(digest) {
		t.Fatal("digest should match its own parameters")
	}
	if !strong.NeedsUpgrade(digest) {
		t.Fatal("expected upgrade when time cost increases")
	}
}

func TestVerifyRejectsMalformedDigest(t *testing.T) {
	h := newTestHasher(t, testConfig())
	cases := []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$short$aGFzaA",
	}
	for _, digest := range cases {
		if _, err := h.Verify(context.Background(), "x", digest); !errors.Is(err, ErrUnsupportedDigest) {
			t.Fatalf("digest %q: expected ErrUnsupportedDigest, got %v", digest, err)
		}
	}
}

func TestHashHonorsContextWhenSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	h := newTestHasher(t, cfg)

	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Hash(ctx, "blocked"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDummyDigestMatchesConfiguredWork(t *testing.T) {
	h := newTestHasher(t, testConfig())
	p, err := parsePHC(h.dummy)
	if err != nil {
		t.Fatalf("dummy digest does not parse: %v", err)
	}
	if p.memory != h.cfg.Memory || p.time != h.cfg.Time || p.parallelism != h.cfg.Parallelism {
		t.Fatalf("dummy digest parameters %+v differ from config %+v", p, h.cfg)
	}
	if h.NeedsUpgrade(h.dummy) {
		t.Fatal("dummy digest must use the current work factor")
	}
	if ok, err := h.Verify(context.Background(), "anything", h.dummy); err != nil || ok {
		t.Fatalf("dummy digest must never match: ok=%v err=%v", ok, err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := New(cfg); err == nil {
		t.Fatal("expected memory validation error")
	}
	cfg = testConfig()
	cfg.SaltLength = 8
	if _, err := New(cfg); err == nil {
		t.Fatal("expected salt validation error")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
