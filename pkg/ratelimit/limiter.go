// Package ratelimit implements a fixed-window request limiter backed by
// Redis. It gates outbound calls to the upstream CRM and shields the
// gateway itself from request floods.
//
// The window is established by the first request in it: an atomic INCR
// followed by EXPIRE-if-unset means the counter and its expiry appear
// together, and the window resets implicitly when Redis expires the key.
// Correctness under concurrent processes rests entirely on these Redis
// primitives; no in-process locking is involved.
//
// The limiter fails open. Load-shedding is not security: when Redis is
// unreachable, requests are allowed and the degradation is reported via
// Result.State and a metric rather than an error.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// State reports how a limiter decision was reached.
type State string

const (
	// StateOK means the decision came from the shared counter.
	StateOK State = "ok"

	// StateDegraded means the store was unreachable and the limiter
	// failed open.
	StateDegraded State = "degraded"

	// StateDisabled means limiting is off (limit <= 0 or no store).
	StateDisabled State = "disabled"
)

// Result is the outcome of a single Hit. The HTTP layer maps it to
// RateLimit-* headers and a 429 when Allowed is false.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int

	// ResetAt is when the current window expires. Zero when unknown
	// (disabled or degraded).
	ResetAt time.Time

	State State
}

// Limiter is a fixed-window counter shared across processes via Redis.
type Limiter struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewLimiter creates a limiter. A nil Redis client constructs it in
// disabled mode, which always allows.
func NewLimiter(redisClient *redis.Client, logger zerolog.Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: "crm:ratelimit:",
		logger: logger,
	}
}

// Hit counts one request against the window for key and decides whether
// it is allowed. The counter is only ever incremented; the window resets
// when Redis expires the key.
func (l *Limiter) Hit(ctx context.Context, key string, limit int, window time.Duration) Result {
	if limit <= 0 || l.redis == nil {
		return Result{Allowed: true, Limit: limit, Remaining: limit, State: StateDisabled}
	}

	redisKey := l.prefix + key

	pipe := l.redis.Pipeline()
	countCmd := pipe.Incr(ctx, redisKey)
	// ExpireNX only arms the TTL when none is set, i.e. on the first
	// increment of a fresh window.
	pipe.ExpireNX(ctx, redisKey, window)
	ttlCmd := pipe.TTL(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		limiterFailOpens.Inc()
		l.logger.Warn().Err(err).Str("key", key).Msg("Rate limit store unreachable, failing open")
		return Result{Allowed: true, Limit: limit, Remaining: limit, State: StateDegraded}
	}

	count := countCmd.Val()

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		State:     StateOK,
	}

	if ttl := ttlCmd.Val(); ttl > 0 {
		result.ResetAt = time.Now().Add(ttl)
	}

	if result.Allowed {
		limiterAllowed.Inc()
	} else {
		limiterBlocked.Inc()
		l.logger.Warn().
			Str("key", key).
			Int("limit", limit).
			Int64("count", count).
			Time("reset_at", result.ResetAt).
			Msg("Request blocked by rate limiter")
	}

	return result
}
