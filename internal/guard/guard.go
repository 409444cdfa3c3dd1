// Package guard provides short-lived delivery locks that keep overlapping
// jobs from sending the same reminder twice.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard hands out named locks with an expiry.
type Guard interface {
	// Acquire takes the lock for key. It returns false when another holder
	// has it and the TTL has not run out.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops the lock. Releasing a missing key is not an error.
	Release(ctx context.Context, key string) error
}

// Compile-time interface checks
var (
	_ Guard = (*RedisGuard)(nil)
	_ Guard = (*MemoryGuard)(nil)
)

const keyPrefix = "nudge:guard:"

// RedisGuard keeps locks in Redis so they survive restarts and are shared
// between processes pointing at the same database.
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard connects to redisURL and verifies the connection.
func NewRedisGuard(ctx context.Context, redisURL string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisGuard{client: client}, nil
}

// Acquire uses SET NX with an expiry.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Close closes the redis client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard is the in-process fallback used when no Redis URL is set.
type MemoryGuard struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryGuard creates an empty in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire takes the lock unless an unexpired holder exists.
func (g *MemoryGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.locks[key] = now.Add(ttl)

	// Opportunistic cleanup keeps the map bounded.
	for k, exp := range g.locks {
		if !now.Before(exp) {
			delete(g.locks, k)
		}
	}
	return true, nil
}

// Release drops the lock.
func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, key)
	return nil
}

// Held returns the number of unexpired locks.
func (g *MemoryGuard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for _, exp := range g.locks {
		if now.Before(exp) {
			n++
		}
	}
	return n
}
