package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/pkg/clock"
)

type counter struct {
	count     int64
	expiresAt time.Time
}

const counterSweepInterval = time.Minute

// CounterStore implements providers.CounterStore in memory. Expired keys
// are dropped on access and by a sweep that Increment runs at most once per
// counterSweepInterval.
type CounterStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	counters  map[string]*counter
	lastSweep time.Time
}

// NewCounterStore creates an empty counter store
func NewCounterStore(clk clock.Clock) *CounterStore {
	return &CounterStore{clock: clk, counters: make(map[string]*counter)}
}

var _ providers.CounterStore = (*CounterStore)(nil)

// Increment adds one to key
func (s *CounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if now.Sub(s.lastSweep) >= counterSweepInterval {
		s.sweep(now)
	}
	c := s.live(key, now)
	if c == nil {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Get returns the current count
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.live(key, s.clock.Now()); c != nil {
		return c.count, nil
	}
	return 0, nil
}

// Reset removes key
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys, expired ones included
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *CounterStore) sweep(now time.Time) {
	for key, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, key)
		}
	}
	s.lastSweep = now
}

func (s *CounterStore) live(key string, now time.Time) *counter {
	c, ok := s.counters[key]
	if !ok {
		return nil
	}
	if !now.Before(c.expiresAt) {
		delete(s.counters, key)
		return nil
	}
	return c
}
