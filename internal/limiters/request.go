package limiters

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskflow/authcore/internal/rate"
)

var (
	ErrRequestRateLimited = errors.New("request rate limited")
	ErrRequestUnavailable = errors.New("request limiter unavailable")
)

// Action names the throttled operation and scopes its keys.
type Action string

const (
	ActionPasswordReset     Action = "reset"
	ActionEmailVerification Action = "verify"
	ActionRegister          Action = "register"
)

type RequestConfig struct {
	Window           time.Duration
	MaxPerIdentifier int
	MaxPerIP         int
}

// RequestLimiter throttles outbound-mail requests per identifier and per
// client IP. A zero max disables that dimension.
type RequestLimiter struct {
	window *rate.Window
	config RequestConfig
}

func NewRequestLimiter(client redis.UniversalClient, prefix string, cfg RequestConfig) *RequestLimiter {
	if client == nil {
		return nil
	}
	return &RequestLimiter{
		window: rate.NewWindow(client, prefix+":rl:", cfg.Window),
		config: cfg,
	}
}

// Check counts one request and reports ErrRequestRateLimited when either the
// identifier or the IP has exceeded its budget. A nil limiter allows all.
func (l *RequestLimiter) Check(ctx context.Context, action Action, identifier, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.MaxPerIdentifier > 0 && identifier != "" {
		if err := l.allow(ctx, identifierKey(action, identifier), l.config.MaxPerIdentifier); err != nil {
			return err
		}
	}
	if l.config.MaxPerIP > 0 && ip != "" {
		if err := l.allow(ctx, ipKey(action, ip), l.config.MaxPerIP); err != nil {
			return err
		}
	}
	return nil
}

func (l *RequestLimiter) allow(ctx context.Context, key string, max int) error {
	err := l.window.Allow(ctx, key, max)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRequestRateLimited
	default:
		return errors.Join(ErrRequestUnavailable, err)
	}
}

func identifierKey(action Action, identifier string) string {
	return string(action) + ":id:" + strings.ToLower(identifier)
}

func ipKey(action Action, ip string) string {
	return string(action) + ":ip:" + ip
}
