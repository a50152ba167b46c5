package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/identity/memstore"
)

func TestValidateRequiresAnAuthPath(t *testing.T) {
	rec := &identity.Identity{ID: "u1", Email: "a@example.com"}
	if err := rec.Validate(); err == nil {
		t.Fatal("expected error without password or external id")
	}
	rec.ExternalID = "777"
	if err := rec.Validate(); err != nil {
		t.Fatalf("external-only identity should be valid: %v", err)
	}
	rec.FailedAttempts = -1
	if err := rec.Validate(); err == nil {
		t.Fatal("expected negative attempts error")
	}
}

func TestValidateSessionExpiry(t *testing.T) {
	now := time.Now()
	rec := &identity.Identity{
		ID:           "u1",
		PasswordHash: "h",
		Sessions:     []identity.Session{{ID: "s1", CreatedAt: now, ExpiresAt: now}},
	}
	if err := rec.Validate(); err == nil {
		t.Fatal("expected session expiry error")
	}
}

func TestAdapterNormalizesKeys(t *testing.T) {
	ctx := context.Background()
	a := identity.NewAdapter(memstore.New())

	rec := &identity.Identity{ID: "u1", Email: "  Alice@Example.COM ", PasswordHash: "h", ExternalUsername: "@Alice"}
	if err := a.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Email != "alice@example.com" || rec.ExternalUsername != "alice" {
		t.Fatalf("not normalized: %q %q", rec.Email, rec.ExternalUsername)
	}

	if _, err := a.FindByEmail(ctx, "ALICE@example.com"); err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if _, err := a.FindByExternalUsername(ctx, "@ALICE"); err != nil {
		t.Fatalf("FindByExternalUsername: %v", err)
	}
	if _, err := a.FindByEmail(ctx, "   "); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected not found for blank email, got %v", err)
	}
}

func TestAdapterRejectsInvalidWrite(t *testing.T) {
	a := identity.NewAdapter(memstore.New())
	if err := a.Create(context.Background(), &identity.Identity{ID: "u1", Email: "x@example.com"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDiff(t *testing.T) {
	lock := time.Now().Add(time.Hour)
	before := &identity.Identity{
		Active:       true,
		PasswordHash: "old",
		Sessions:     []identity.Session{{ID: "s1"}},
	}
	after := before.Clone()
	after.Active = false
	after.LockUntil = &lock
	after.PasswordHash = "new"
	after.Sessions = nil

	changes := identity.Diff(before, after)
	for _, want := range []identity.Change{
		identity.ChangeDeactivated,
		identity.ChangeLocked,
		identity.ChangePasswordChanged,
		identity.ChangeSessionsRevoked,
	} {
		if !identity.Has(changes, want) {
			t.Fatalf("missing %s in %v", want, changes)
		}
	}
	if identity.Has(changes, identity.ChangeActivated) {
		t.Fatalf("unexpected activation in %v", changes)
	}
	if len(identity.Diff(before, before.Clone())) != 0 {
		t.Fatal("identical snapshots should have no changes")
	}
}

func TestCloneIsDeep(t *testing.T) {
	lock := time.Now()
	rec := &identity.Identity{ID: "u1", LockUntil: &lock}
	rec.SetToken(identity.PurposeReset, identity.SingleUseToken{Hash: "a"})
	cp := rec.Clone()
	cp.ClearToken(identity.PurposeReset)
	*cp.LockUntil = lock.Add(time.Hour)

	if _, ok := rec.Token(identity.PurposeReset); !ok {
		t.Fatal("clone shares token map")
	}
	if !rec.LockUntil.Equal(lock) {
		t.Fatal("clone shares lock pointer")
	}
}
