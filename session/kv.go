package session

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// MemoryKV is an in-process KV bounded by size and a single TTL applied
// to every entry. Per call TTLs are ignored.
type MemoryKV struct {
	cache *expirable.LRU[string, string]
}

// NewMemoryKV creates a MemoryKV holding up to size entries for ttl.
func NewMemoryKV(size int, ttl time.Duration) *MemoryKV {
	if size <= 0 {
		size = 256
	}
	return &MemoryKV{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.cache.Add(key, value)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryKV) Len() int {
	return m.cache.Len()
}

// RedisKV stores entries in Redis so attempts survive a process restart
// of the callback handler.
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKV wraps client. Keys are prefixed with prefix when set.
func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
