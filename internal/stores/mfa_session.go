package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionBackend indicates the session flag backend is unreachable.
var ErrSessionBackend = errors.New("mfa session backend unavailable")

// RedisSessionFlags keeps the per-user "MFA verified" flag in Redis so
// the guard decision survives process restarts and horizontal scaling.
type RedisSessionFlags struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisSessionFlags(client redis.UniversalClient, prefix string) *RedisSessionFlags {
	if prefix == "" {
		prefix = "mfav"
	}
	return &RedisSessionFlags{redis: client, prefix: prefix}
}

func (s *RedisSessionFlags) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisSessionFlags) MarkVerified(ctx context.Context, userID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

func (s *RedisSessionFlags) IsVerified(ctx context.Context, userID string) (bool, error) {
	if err := s.redis.Get(ctx, s.key(userID)).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return true, nil
}

func (s *RedisSessionFlags) Clear(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

// MemorySessionFlags is the in-process fallback. Flags do not survive a
// restart and are not shared across processes.
type MemorySessionFlags struct {
	mu    sync.Mutex
	flags map[string]time.Time
}

func NewMemorySessionFlags() *MemorySessionFlags {
	return &MemorySessionFlags{flags: make(map[string]time.Time)}
}

func (s *MemorySessionFlags) MarkVerified(_ context.Context, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[userID] = time.Now().Add(ttl)
	return nil
}

func (s *MemorySessionFlags) IsVerified(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.flags[userID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expires) {
		delete(s.flags, userID)
		return false, nil
	}
	return true, nil
}

func (s *MemorySessionFlags) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, userID)
	return nil
}
