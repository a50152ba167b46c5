package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no identity matches a lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrConflict is returned by Update when the stored version moved.
	ErrConflict = errors.New("identity version conflict")
	// ErrDuplicate is returned when a unique index (email, external id,
	// external username) is already taken by another identity.
	ErrDuplicate = errors.New("identity already exists")
	// ErrUnavailable wraps backend I/O failures.
	ErrUnavailable = errors.New("identity store unavailable")
)

// Store persists identities. Implementations must be safe for concurrent use.
//
// Update is a compare-and-set on Version: it fails with ErrConflict when the
// stored record has a different version than the one passed in, and on
// success writes the record with Version+1 and updates the caller's copy.
// Backends perform no business logic and emit no events.
type Store interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByExternalID(ctx context.Context, externalID string) (*Identity, error)
	FindByExternalUsername(ctx context.Context, username string) (*Identity, error)
	FindByTokenHash(ctx context.Context, purpose Purpose, hash string) (*Identity, error)
	Create(ctx context.Context, ident *Identity) error
	Update(ctx context.Context, ident *Identity) error
	Ping(ctx context.Context) error
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims, drops a leading '@' and lower-cases a handle.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// Adapter is the pass-through in front of a Store. It normalizes lookup keys
// and checks identity invariants before writes; it holds no business rules.
type Adapter struct {
	store Store
}

// NewAdapter wraps store.
func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

func (a *Adapter) FindByID(ctx context.Context, id string) (*Identity, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return a.store.FindByID(ctx, id)
}

func (a *Adapter) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return a.store.FindByEmail(ctx, email)
}

func (a *Adapter) FindByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrNotFound
	}
	return a.store.FindByExternalID(ctx, externalID)
}

func (a *Adapter) FindByExternalUsername(ctx context.Context, username string) (*Identity, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, ErrNotFound
	}
	return a.store.FindByExternalUsername(ctx, username)
}

func (a *Adapter) FindByTokenHash(ctx context.Context, purpose Purpose, hash string) (*Identity, error) {
	if !purpose.Valid() || hash == "" {
		return nil, ErrNotFound
	}
	return a.store.FindByTokenHash(ctx, purpose, hash)
}

func (a *Adapter) Create(ctx context.Context, ident *Identity) error {
	normalize(ident)
	if err := ident.Validate(); err != nil {
		return err
	}
	return a.store.Create(ctx, ident)
}

func (a *Adapter) Update(ctx context.Context, ident *Identity) error {
	normalize(ident)
	if err := ident.Validate(); err != nil {
		return err
	}
	return a.store.Update(ctx, ident)
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

func normalize(ident *Identity) {
	ident.Email = NormalizeEmail(ident.Email)
	ident.ExternalUsername = NormalizeUsername(ident.ExternalUsername)
	ident.ExternalID = strings.TrimSpace(ident.ExternalID)
}

var _ Store = (*Adapter)(nil)
