package connector

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// StateLedger makes issued states single use. Issue records a nonce until
// exp; Consume reports whether the nonce was outstanding and removes it.
type StateLedger interface {
	Issue(ctx context.Context, nonce string, exp time.Time) error
	Consume(ctx context.Context, nonce string) (bool, error)
}

// MemoryStateLedger keeps outstanding nonces in a bounded LRU. It only
// works when one process serves both the authorization and the exchange.
type MemoryStateLedger struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
	now   func() time.Time
}

// NewMemoryStateLedger creates a ledger holding up to size nonces for at
// most ttl each.
func NewMemoryStateLedger(size int, ttl time.Duration, now func() time.Time) *MemoryStateLedger {
	if size <= 0 {
		size = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStateLedger{
		cache: expirable.NewLRU[string, time.Time](size, nil, ttl),
		now:   now,
	}
}

func (l *MemoryStateLedger) Issue(_ context.Context, nonce string, exp time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(nonce, exp)
	return nil
}

func (l *MemoryStateLedger) Consume(_ context.Context, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.cache.Get(nonce)
	if !ok {
		return false, nil
	}
	l.cache.Remove(nonce)
	return !l.now().After(exp), nil
}

// RedisStateLedger shares outstanding nonces between instances.
type RedisStateLedger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStateLedger wraps client; keys are stored under prefix.
func NewRedisStateLedger(client redis.UniversalClient, prefix string) *RedisStateLedger {
	if prefix == "" {
		prefix = "connect:state:"
	}
	return &RedisStateLedger{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisStateLedger) Issue(ctx context.Context, nonce string, exp time.Time) error {
	ttl := exp.Sub(l.now())
	if ttl <= 0 {
		return nil
	}
	return l.client.SetNX(ctx, l.prefix+nonce, "1", ttl).Err()
}

func (l *RedisStateLedger) Consume(ctx context.Context, nonce string) (bool, error) {
	_, err := l.client.GetDel(ctx, l.prefix+nonce).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
