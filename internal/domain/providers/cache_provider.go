package providers

import (
	"context"
	"time"
)

// CounterStore defines a key-TTL counter used for attempt limiting
type CounterStore interface {
	// Increment adds one to key and returns the new count. The TTL is set
	// when the key is created and is not extended by later increments.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the current count, zero when the key is absent or expired
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes key
	Reset(ctx context.Context, key string) error
}
