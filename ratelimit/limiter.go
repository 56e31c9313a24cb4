// Package ratelimit enforces per-integration outbound quotas with a fixed
// window counter in redis, so every replica draws from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"switchyard.dev/model"
)

// Result is the answer to one quota check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set on denial: how long until the window rolls over.
	RetryAfter time.Duration
}

// Limiter checks integration quotas against redis.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// New builds a limiter over an existing redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Check consumes one slot from the integration's current window. Disabled or
// missing configs always allow. A redis failure allows too: the limiter
// protects targets from floods, it must not become a delivery outage itself.
func (l *Limiter) Check(ctx context.Context, integrationID string, cfg *model.RateLimitConfig) (*Result, error) {
	if cfg == nil || !cfg.Enabled || cfg.MaxRequests <= 0 || cfg.WindowSeconds <= 0 {
		return &Result{Allowed: true, Remaining: -1}, nil
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second
	now := l.now()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)
	key := fmt.Sprintf("ratelimit:%s:%d", integrationID, windowStart.Unix())

	// INCR then set the expiry on the first hit; the key dies shortly after
	// its window so abandoned integrations leave nothing behind.
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return &Result{Allowed: true, Remaining: -1}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if count == 1 {
		l.client.Expire(ctx, key, window+time.Minute)
	}

	if count > int64(cfg.MaxRequests) {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	return &Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - int(count),
		ResetAt:   resetAt,
	}, nil
}
