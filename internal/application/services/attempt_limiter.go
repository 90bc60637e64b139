package services

import (
	"context"

	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/config"
)

// AttemptLimiter caps how many booking attempts a key may make per window
type AttemptLimiter struct {
	store   providers.CounterStore
	cfg     config.RateLimitConfig
	metrics *observability.Metrics
}

// NewAttemptLimiter creates a limiter over store
func NewAttemptLimiter(store providers.CounterStore, cfg config.RateLimitConfig, metrics *observability.Metrics) *AttemptLimiter {
	return &AttemptLimiter{store: store, cfg: cfg, metrics: metrics}
}

// Allow counts one attempt for key and reports whether it is within the
// limit. A counter store failure lets the attempt through.
func (l *AttemptLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !l.cfg.Enabled || l.cfg.MaxAttempts <= 0 {
		return true, nil
	}

	count, err := l.store.Increment(ctx, attemptKey(key), l.cfg.Window)
	if err != nil {
		observability.ComponentLogger(ctx, "ratelimit").Warn().Err(err).Str("key", key).Msg("attempt counter unavailable, allowing request")
		return true, err
	}
	if count > int64(l.cfg.MaxAttempts) {
		observability.RecordRateLimited(ctx, l.metrics, "booking")
		return false, nil
	}
	return true, nil
}

// Reset clears the attempt count for key
func (l *AttemptLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, attemptKey(key))
}

func attemptKey(key string) string {
	return "attempts:" + key
}
