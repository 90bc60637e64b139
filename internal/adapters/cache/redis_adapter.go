package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/carebook/internal/domain/providers"
	redisclient "github.com/zatekoja/carebook/internal/infrastructure/clients/redis"
)

// RedisCounterStore implements the CounterStore interface using Redis
type RedisCounterStore struct {
	client *redisclient.Client
	prefix string
}

// NewRedisCounterStore creates a new Redis counter store. Keys are
// namespaced under prefix.
func NewRedisCounterStore(client *redisclient.Client, prefix string) *RedisCounterStore {
	return &RedisCounterStore{
		client: client,
		prefix: prefix,
	}
}

var _ providers.CounterStore = (*RedisCounterStore)(nil)

// Increment adds one to key, setting the TTL when the key is new
func (a *RedisCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := a.prefix + key
	count, err := a.client.Client().Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	if count == 1 {
		if err := a.client.Client().Expire(ctx, k, ttl).Err(); err != nil {
			return count, fmt.Errorf("failed to set counter expiry: %w", err)
		}
	}
	return count, nil
}

// Get returns the current count
func (a *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := a.client.Client().Get(ctx, a.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return count, nil
}

// Reset removes key
func (a *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := a.client.Client().Del(ctx, a.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}
