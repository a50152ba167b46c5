package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func hsConfig() Config {
	return Config{
		SigningMethod: MethodHS256,
		Access:        KeyPair{Private: []byte(strings.Repeat("a", 32))},
		Refresh:       KeyPair{Private: []byte(strings.Repeat("r", 32))},
		Issuer:        "authcore",
		Audience:      "helpdesk",
	}
}

func newHSIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(hsConfig())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return i
}

func TestIssueAndVerifyBothPurposes(t *testing.T) {
	i := newHSIssuer(t)

	access, err := i.IssueAccess("u1", "agent", false, 24*time.Hour)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := i.Verify(access.Value, PurposeAccess)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != "agent" || claims.Purpose != PurposeAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	refresh, err := i.IssueRefresh("u1", "agent", true, 60*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err = i.Verify(refresh.Value, PurposeRefresh)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if !claims.Remember || claims.ID != refresh.ID {
		t.Fatalf("unexpected refresh claims: %+v", claims)
	}
	if got := refresh.ExpiresAt.Sub(refresh.IssuedAt); got != 60*24*time.Hour {
		t.Fatalf("unexpected refresh lifetime %v", got)
	}
}

func TestVerifyWrongPurpose(t *testing.T) {
	i := newHSIssuer(t)
	access, _ := i.IssueAccess("u1", "agent", false, time.Hour)
	refresh, _ := i.IssueRefresh("u1", "agent", false, time.Hour)

	if _, err := i.Verify(access.Value, PurposeRefresh); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("access as refresh: expected ErrWrongPurpose, got %v", err)
	}
	if _, err := i.Verify(refresh.Value, PurposeAccess); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("refresh as access: expected ErrWrongPurpose, got %v", err)
	}
	if _, err := i.ParseRefreshForRevocation(access.Value); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("revocation parse of access: expected ErrWrongPurpose, got %v", err)
	}
}

func TestVerifyExpiredAndRevocationParse(t *testing.T) {
	i := newHSIssuer(t)
	now := time.Now()
	i.SetClock(func() time.Time { return now })
	refresh, _ := i.IssueRefresh("u1", "agent", false, time.Hour)

	i.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	if _, err := i.Verify(refresh.Value, PurposeRefresh); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	claims, err := i.ParseRefreshForRevocation(refresh.Value)
	if err != nil {
		t.Fatalf("ParseRefreshForRevocation: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestVerifyMalformed(t *testing.T) {
	i := newHSIssuer(t)
	for _, tok := range []string{"", "abc", "a.b.c"} {
		if _, err := i.Verify(tok, PurposeAccess); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", tok, err)
		}
	}

	foreign := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{
		Purpose: PurposeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "authcore",
			Audience:  gjwt.ClaimStrings{"helpdesk"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, _ := foreign.SignedString([]byte(strings.Repeat("z", 32)))
	if _, err := i.Verify(signed, PurposeAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("foreign key: expected ErrMalformed, got %v", err)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	i := newHSIssuer(t)
	cfg := hsConfig()
	cfg.Audience = "other"
	j, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	tok, _ := j.IssueAccess("u1", "agent", false, time.Hour)
	if _, err := i.Verify(tok.Value, PurposeAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for wrong audience, got %v", err)
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	i := newHSIssuer(t)
	a, _ := i.IssueRefresh("u1", "agent", false, time.Hour)
	b, _ := i.IssueRefresh("u1", "agent", false, time.Hour)
	if a.Value == b.Value || a.ID == b.ID {
		t.Fatal("expected distinct refresh tokens")
	}
}

func TestEd25519Issuer(t *testing.T) {
	_, accessPriv, _ := ed25519.GenerateKey(rand.Reader)
	_, refreshPriv, _ := ed25519.GenerateKey(rand.Reader)
	i, err := NewIssuer(Config{
		SigningMethod: MethodEd25519,
		Access:        KeyPair{Private: accessPriv},
		Refresh:       KeyPair{Private: refreshPriv},
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	tok, err := i.IssueRefresh("u1", "admin", false, time.Hour)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := i.Verify(tok.Value, PurposeRefresh); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := i.Verify(tok.Value, PurposeAccess); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected ErrWrongPurpose, got %v", err)
	}
}

func TestNewIssuerRejectsSharedKeys(t *testing.T) {
	cfg := hsConfig()
	cfg.Refresh = cfg.Access
	if _, err := NewIssuer(cfg); err == nil {
		t.Fatal("expected shared secret to be rejected")
	}
	cfg = hsConfig()
	cfg.Access.Private = []byte("short")
	if _, err := NewIssuer(cfg); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	cfg = hsConfig()
	cfg.SigningMethod = "rs256"
	if _, err := NewIssuer(cfg); err == nil {
		t.Fatal("expected unsupported method to be rejected")
	}
}
