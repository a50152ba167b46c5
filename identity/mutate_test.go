package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/deskflow/authcore/identity"
	"github.com/deskflow/authcore/identity/memstore"
)

// racingStore bumps the stored version behind the caller's back a fixed
// number of times to simulate concurrent writers.
type racingStore struct {
	*memstore.Store
	races int
}

func (r *racingStore) Update(ctx context.Context, ident *identity.Identity) error {
	if r.races > 0 {
		r.races--
		other, err := r.Store.FindByID(ctx, ident.ID)
		if err != nil {
			return err
		}
		other.Role = "raced"
		if err := r.Store.Update(ctx, other); err != nil {
			return err
		}
	}
	return r.Store.Update(ctx, ident)
}

func seed(t *testing.T, s *memstore.Store) {
	t.Helper()
	if err := s.Create(context.Background(), &identity.Identity{ID: "u1", Email: "a@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestMutateRetriesOnceOnConflict(t *testing.T) {
	base := memstore.New()
	seed(t, base)
	rs := &racingStore{Store: base, races: 1}

	calls := 0
	_, after, err := identity.Mutate(context.Background(), rs, "u1", func(i *identity.Identity) error {
		calls++
		i.FailedAttempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected fn to run twice, ran %d", calls)
	}
	if after.Role != "raced" || after.FailedAttempts != 1 {
		t.Fatalf("retry did not re-read: %+v", after)
	}
}

func TestMutateSurfacesSecondConflict(t *testing.T) {
	base := memstore.New()
	seed(t, base)
	rs := &racingStore{Store: base, races: 2}

	_, _, err := identity.Mutate(context.Background(), rs, "u1", func(i *identity.Identity) error {
		i.FailedAttempts++
		return nil
	})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMutateNoChangeSkipsWrite(t *testing.T) {
	base := memstore.New()
	seed(t, base)

	before, after, err := identity.Mutate(context.Background(), base, "u1", func(*identity.Identity) error {
		return identity.ErrNoChange
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if before != after || after.Version != 1 {
		t.Fatalf("expected untouched record, got %+v", after)
	}
}

func TestMutateCallbackError(t *testing.T) {
	base := memstore.New()
	seed(t, base)
	boom := errors.New("boom")

	_, _, err := identity.Mutate(context.Background(), base, "u1", func(*identity.Identity) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
