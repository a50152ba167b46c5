// Package redisstore persists identities in Redis.
//
// Each identity is one JSON value under <prefix>:rec:<id>. Unique lookups go
// through index keys that hold the identity id:
//
//	<prefix>:email:<email>
//	<prefix>:ext:<external id>
//	<prefix>:extuser:<external username>
//	<prefix>:tok:<purpose>:<token hash>
//
// Create and Update run inside WATCH transactions so a concurrent writer on
// the same record or index key aborts the loser with identity.ErrConflict.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskflow/authcore/identity"
)

const defaultPrefix = "idn"

// Store implements identity.Store on a go-redis client.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// New returns a Store using prefix for all keys ("idn" when empty).
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{redis: client, prefix: prefix, clock: time.Now}
}

func (s *Store) recKey(id string) string       { return s.prefix + ":rec:" + id }
func (s *Store) emailKey(email string) string  { return s.prefix + ":email:" + email }
func (s *Store) extKey(extID string) string    { return s.prefix + ":ext:" + extID }
func (s *Store) extUserKey(name string) string { return s.prefix + ":extuser:" + name }
func (s *Store) tokKey(p identity.Purpose, hash string) string {
	return s.prefix + ":tok:" + string(p) + ":" + hash
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.load(ctx, s.redis, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return s.findByIndex(ctx, s.emailKey(email), func(rec *identity.Identity) bool { return rec.Email == email })
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*identity.Identity, error) {
	return s.findByIndex(ctx, s.extKey(externalID), func(rec *identity.Identity) bool { return rec.ExternalID == externalID })
}

func (s *Store) FindByExternalUsername(ctx context.Context, username string) (*identity.Identity, error) {
	return s.findByIndex(ctx, s.extUserKey(username), func(rec *identity.Identity) bool {
		return rec.ExternalUsername == username
	})
}

func (s *Store) FindByTokenHash(ctx context.Context, purpose identity.Purpose, hash string) (*identity.Identity, error) {
	return s.findByIndex(ctx, s.tokKey(purpose, hash), func(rec *identity.Identity) bool {
		tok, ok := rec.Token(purpose)
		return ok && tok.Hash == hash
	})
}

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	now := s.clock().UTC()
	next := ident.Clone()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version = 1

	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	want := s.indexKeys(next)
	watched := append([]string{s.recKey(next.ID)}, want...)

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, s.recKey(next.ID)).Result()
		if err != nil {
			return unavailable(err)
		}
		if exists > 0 {
			return identity.ErrDuplicate
		}
		if err := s.checkIndexes(ctx, tx, next.ID, want); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.recKey(next.ID), payload, 0)
			for _, k := range want {
				pipe.Set(ctx, k, next.ID, 0)
			}
			return nil
		})
		return err
	}, watched...)
	if err != nil {
		return mapTxErr(err)
	}

	*ident = *next
	return nil
}

func (s *Store) Update(ctx context.Context, ident *identity.Identity) error {
	next := ident.Clone()
	next.Version = ident.Version + 1
	next.UpdatedAt = s.clock().UTC()

	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	want := s.indexKeys(next)
	watched := append([]string{s.recKey(next.ID)}, want...)

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		if cur.Version != ident.Version {
			return identity.ErrConflict
		}
		if err := s.checkIndexes(ctx, tx, next.ID, want); err != nil {
			return err
		}
		stale := difference(s.indexKeys(cur), want)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.recKey(next.ID), payload, 0)
			for _, k := range stale {
				pipe.Del(ctx, k)
			}
			for _, k := range want {
				pipe.Set(ctx, k, next.ID, 0)
			}
			return nil
		})
		return err
	}, watched...)
	if err != nil {
		return mapTxErr(err)
	}

	*ident = *next
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) load(ctx context.Context, r getter, id string) (*identity.Identity, error) {
	data, err := r.Get(ctx, s.recKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, identity.ErrNotFound
		}
		return nil, unavailable(err)
	}
	var rec identity.Identity
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record %s: %v", identity.ErrUnavailable, id, err)
	}
	return &rec, nil
}

// findByIndex resolves an index key and double-checks the record still
// carries the indexed value, so a stale index reads as not found.
func (s *Store) findByIndex(ctx context.Context, key string, match func(*identity.Identity) bool) (*identity.Identity, error) {
	id, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, identity.ErrNotFound
		}
		return nil, unavailable(err)
	}
	rec, err := s.load(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	if !match(rec) {
		return nil, identity.ErrNotFound
	}
	return rec, nil
}

func (s *Store) checkIndexes(ctx context.Context, tx *redis.Tx, id string, keys []string) error {
	for _, k := range keys {
		owner, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return unavailable(err)
		}
		if owner != id {
			return identity.ErrDuplicate
		}
	}
	return nil
}

func (s *Store) indexKeys(rec *identity.Identity) []string {
	keys := make([]string, 0, 5)
	if rec.Email != "" {
		keys = append(keys, s.emailKey(rec.Email))
	}
	if rec.ExternalID != "" {
		keys = append(keys, s.extKey(rec.ExternalID))
	}
	if rec.ExternalUsername != "" {
		keys = append(keys, s.extUserKey(rec.ExternalUsername))
	}
	for _, p := range []identity.Purpose{identity.PurposeReset, identity.PurposeVerify} {
		if tok, ok := rec.Token(p); ok {
			keys = append(keys, s.tokKey(p, tok.Hash))
		}
	}
	return keys
}

func difference(have, want []string) []string {
	keep := make(map[string]struct{}, len(want))
	for _, k := range want {
		keep[k] = struct{}{}
	}
	var out []string
	for _, k := range have {
		if _, ok := keep[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func mapTxErr(err error) error {
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return identity.ErrConflict
	case errors.Is(err, identity.ErrConflict),
		errors.Is(err, identity.ErrDuplicate),
		errors.Is(err, identity.ErrNotFound),
		errors.Is(err, identity.ErrUnavailable):
		return err
	default:
		return unavailable(err)
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", identity.ErrUnavailable, err)
}

var _ identity.Store = (*Store)(nil)
