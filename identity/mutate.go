package identity

import (
	"context"
	"errors"
)

// ErrNoChange may be returned by a Mutate callback to finish without writing.
var ErrNoChange = errors.New("identity unchanged")

// Reader is the lookup half of Store used by Mutate.
type Reader interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
}

// Writer is the write half of Store used by Mutate.
type Writer interface {
	Update(ctx context.Context, ident *Identity) error
}

// ReadWriter is what Mutate needs.
type ReadWriter interface {
	Reader
	Writer
}

// Mutate reads the identity, applies fn to a copy and writes it back with a
// version check. A version conflict re-reads and re-applies fn once; a second
// conflict is returned as ErrConflict. fn must be free of side effects other
// than on the identity it receives, since it may run twice.
//
// Mutate returns the snapshot fn saw and the written result. If fn returns
// ErrNoChange nothing is written and after equals before.
func Mutate(ctx context.Context, rw ReadWriter, id string, fn func(*Identity) error) (before, after *Identity, err error) {
	const attempts = 2
	for i := 0; i < attempts; i++ {
		cur, err := rw.FindByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return cur, cur, nil
			}
			return cur, nil, err
		}
		err = rw.Update(ctx, next)
		if err == nil {
			return cur, next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return cur, nil, err
		}
	}
	return nil, nil, ErrConflict
}
