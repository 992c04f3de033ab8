package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore remembers completed idempotency keys for a TTL.
type KeyStore interface {
	Completed(ctx context.Context, key string) (bool, error)
	MarkCompleted(ctx context.Context, key string) error
}

// MemoryKeyStore keeps keys in process. Expired keys are dropped lazily.
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryKeyStore(ttl time.Duration) *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *MemoryKeyStore) Completed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expires) {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryKeyStore) MarkCompleted(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, expires := range s.keys {
		if !now.Before(expires) {
			delete(s.keys, k)
		}
	}
	if _, ok := s.keys[key]; !ok {
		s.keys[key] = now.Add(s.ttl)
	}
	return nil
}

// Len returns the number of live keys.
func (s *MemoryKeyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// RedisKeyStore keeps keys in Redis so every worker process shares them.
type RedisKeyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisKeyStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisKeyStore {
	return &RedisKeyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisKeyStore) Completed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return n > 0, nil
}

// MarkCompleted uses SET NX so the first completion time is kept.
func (s *RedisKeyStore) MarkCompleted(ctx context.Context, key string) error {
	if err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("mark idempotency key: %w", err)
	}
	return nil
}
