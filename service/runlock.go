package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/redis/go-redis/v9"
)

// RunLocker serializes pipeline runs per card: two overlapping triggers for
// the same card must not mutate it concurrently. Locks carry a TTL so a
// crashed holder cannot wedge the card forever.
type RunLocker interface {
	// Acquire takes the lock for the card. False means another run holds it.
	Acquire(ctx context.Context, cardID string) (bool, error)
	// Release frees the lock after the run completes.
	Release(ctx context.Context, cardID string) error
}

// NewRunLocker builds the locker selected by configuration.
func NewRunLocker(cfg *config.LockConfig) (RunLocker, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute

	switch cfg.Driver {
	case "redis":
		return NewRedisRunLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl), nil
	case "memory":
		return NewMemoryRunLocker(ttl), nil
	default:
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Driver)
	}
}

// MemoryRunLocker is the single-instance locker.
type MemoryRunLocker struct {
	mu   sync.Mutex
	held map[string]time.Time // card id -> expiry
	ttl  time.Duration
}

func NewMemoryRunLocker(ttl time.Duration) *MemoryRunLocker {
	return &MemoryRunLocker{
		held: make(map[string]time.Time),
		ttl:  ttl,
	}
}

func (l *MemoryRunLocker) Acquire(ctx context.Context, cardID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[cardID]; ok && time.Now().Before(expiry) {
		return false, nil
	}

	l.held[cardID] = time.Now().Add(l.ttl)
	return true, nil
}

func (l *MemoryRunLocker) Release(ctx context.Context, cardID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, cardID)
	return nil
}

// RedisRunLocker holds the lock in Redis so multiple instances serialize
// against the same card.
type RedisRunLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRunLocker(addr, password string, db int, ttl time.Duration) *RedisRunLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRunLocker{client: rdb, ttl: ttl}
}

func (l *RedisRunLocker) key(cardID string) string {
	return fmt.Sprintf("runlock:%s", cardID)
}

func (l *RedisRunLocker) Acquire(ctx context.Context, cardID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(cardID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

func (l *RedisRunLocker) Release(ctx context.Context, cardID string) error {
	if err := l.client.Del(ctx, l.key(cardID)).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
