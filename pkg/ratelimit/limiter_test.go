package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client, skipping when no local
// Redis is available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestLimiter_FixedWindow(t *testing.T) {
	client := setupTestRedis(t)
	l := NewLimiter(client, zerolog.Nop())
	ctx := context.Background()

	const limit = 5
	window := 60 * time.Second

	for i := 0; i < limit; i++ {
		res := l.Hit(ctx, "upstream", limit, window)
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i+1)
		}
		if res.State != StateOK {
			t.Fatalf("hit %d state = %s, want ok", i+1, res.State)
		}
		wantRemaining := limit - (i + 1)
		if res.Remaining != wantRemaining {
			t.Errorf("hit %d remaining = %d, want %d", i+1, res.Remaining, wantRemaining)
		}
	}

	res := l.Hit(ctx, "upstream", limit, window)
	if res.Allowed {
		t.Error("6th hit should be blocked")
	}
	if res.Remaining != 0 {
		t.Errorf("blocked remaining = %d, want 0", res.Remaining)
	}
	if res.ResetAt.IsZero() {
		t.Error("blocked result should carry ResetAt")
	}
	if until := time.Until(res.ResetAt); until <= 0 || until > window {
		t.Errorf("ResetAt %v outside the window", until)
	}
}

func TestLimiter_WindowExpiryArmsOnce(t *testing.T) {
	client := setupTestRedis(t)
	l := NewLimiter(client, zerolog.Nop())
	ctx := context.Background()

	l.Hit(ctx, "short", 10, 2*time.Second)
	time.Sleep(1100 * time.Millisecond)

	// Second hit must not re-arm the TTL: the window started with the
	// first request in it.
	res := l.Hit(ctx, "short", 10, 2*time.Second)
	if until := time.Until(res.ResetAt); until > time.Second {
		t.Errorf("window TTL was re-armed: %v until reset, want < 1s", until)
	}
}

func TestLimiter_SeparateKeys(t *testing.T) {
	client := setupTestRedis(t)
	l := NewLimiter(client, zerolog.Nop())
	ctx := context.Background()

	l.Hit(ctx, "key-a", 1, time.Minute)
	if res := l.Hit(ctx, "key-a", 1, time.Minute); res.Allowed {
		t.Error("second hit on key-a should be blocked")
	}
	if res := l.Hit(ctx, "key-b", 1, time.Minute); !res.Allowed {
		t.Error("key-b has its own window and should be allowed")
	}
}

func TestLimiter_ZeroLimitAlwaysAllows(t *testing.T) {
	client := setupTestRedis(t)
	l := NewLimiter(client, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res := l.Hit(ctx, "unlimited", 0, time.Minute)
		if !res.Allowed {
			t.Fatalf("hit %d with limit=0 should be allowed", i+1)
		}
		if res.State != StateDisabled {
			t.Fatalf("state = %s, want disabled", res.State)
		}
	}
}

func TestLimiter_NilClientIsDisabled(t *testing.T) {
	l := NewLimiter(nil, zerolog.Nop())

	res := l.Hit(context.Background(), "any", 5, time.Minute)
	if !res.Allowed {
		t.Error("limiter without a store should allow")
	}
	if res.State != StateDisabled {
		t.Errorf("state = %s, want disabled", res.State)
	}
	if res.Remaining != 5 {
		t.Errorf("remaining = %d, want limit", res.Remaining)
	}
}

func TestLimiter_FailsOpenOnStoreOutage(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewLimiter(client, zerolog.Nop())

	res := l.Hit(context.Background(), "any", 5, time.Minute)
	if !res.Allowed {
		t.Error("limiter should fail open when the store is unreachable")
	}
	if res.State != StateDegraded {
		t.Errorf("state = %s, want degraded", res.State)
	}
	if res.Remaining != 5 {
		t.Errorf("remaining = %d, want limit on fail-open", res.Remaining)
	}
}
