package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a Redis fixed-window counter. The first hit in a window sets the
// key's TTL; later hits only increment.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	length time.Duration
}

// NewWindow returns a counter whose keys live under prefix and expire after
// length.
func NewWindow(client redis.UniversalClient, prefix string, length time.Duration) *Window {
	return &Window{redis: client, prefix: prefix, length: length}
}

// Allow increments key and returns ErrRateLimited once the count exceeds max.
func (w *Window) Allow(ctx context.Context, key string, max int) error {
	count, err := w.Hit(ctx, key)
	if err != nil {
		return err
	}
	if count > int64(max) {
		return ErrRateLimited
	}
	return nil
}

// Hit increments key and returns the count within the current window.
func (w *Window) Hit(ctx context.Context, key string) (int64, error) {
	k := w.prefix + key
	count, err := w.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := w.redis.Expire(ctx, k, w.length).Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

// Count reads the current count without incrementing. Missing keys are zero.
func (w *Window) Count(ctx context.Context, key string) (int64, error) {
	n, err := w.redis.Get(ctx, w.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Reset deletes key.
func (w *Window) Reset(ctx context.Context, key string) error {
	if err := w.redis.Del(ctx, w.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}
