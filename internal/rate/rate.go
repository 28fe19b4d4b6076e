// Package rate provides fixed-window attempt counting behind a Counter
// interface. The in-memory implementation serves single-process
// deployments; the Redis implementation externalizes the counters for
// horizontally scaled ones. Callers depend only on the interface.
package rate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited indicates the attempt budget for a key is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable indicates the counter backend is unreachable.
	ErrUnavailable = errors.New("rate counter backend unavailable")
)

// Counter is a fixed-window counter keyed by opaque strings.
type Counter interface {
	// Incr bumps the key's counter, starting a new window of the given
	// duration on the first hit, and returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the current count, zero for unknown or expired keys.
	Get(ctx context.Context, key string) (int64, error)
	// Reset clears the key.
	Reset(ctx context.Context, key string) error
}

// Config holds limiter tuning parameters.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	KeyPrefix   string
}

// Limiter enforces per-user and per-IP attempt budgets over a Counter.
type Limiter struct {
	counter Counter
	config  Config
}

// NewLimiter creates a limiter. Zero-value fields fall back to
// 5 attempts / 1 minute.
func NewLimiter(counter Counter, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{counter: counter, config: cfg}
}

func (l *Limiter) userKey(userID string) string {
	return l.config.KeyPrefix + "u:" + userID
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.KeyPrefix + "ip:" + ip
}

// Allow checks whether the user+IP pair is within budget without
// consuming an attempt.
func (l *Limiter) Allow(ctx context.Context, userID, ip string) error {
	keys := []string{l.userKey(userID)}
	if ip != "" {
		keys = append(keys, l.ipKey(ip))
	}
	for _, key := range keys {
		count, err := l.counter.Get(ctx, key)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Record consumes an attempt for the user+IP pair. Returns ErrRateLimited
// once the budget is exceeded.
func (l *Limiter) Record(ctx context.Context, userID, ip string) error {
	count, err := l.counter.Incr(ctx, l.userKey(userID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	if ip != "" {
		count, err = l.counter.Incr(ctx, l.ipKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// Reset clears the counters for the user+IP pair, typically after a
// successful verification.
func (l *Limiter) Reset(ctx context.Context, userID, ip string) error {
	if err := l.counter.Reset(ctx, l.userKey(userID)); err != nil {
		return err
	}
	if ip != "" {
		return l.counter.Reset(ctx, l.ipKey(ip))
	}
	return nil
}
