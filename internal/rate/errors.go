package rate

import "errors"

var (
	// ErrRateLimited reports that a window's budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures from the counter backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
