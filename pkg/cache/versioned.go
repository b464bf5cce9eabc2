package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campusops/crm-gateway/pkg/query"
)

// State reports how a cache operation was served. Degradation is an
// explicit outcome, not a swallowed error: callers can observe (and
// tests can assert) that the cache was bypassed.
type State string

const (
	// StateOK means the cache backend answered.
	StateOK State = "ok"

	// StateDegraded means the backend was unreachable and the operation
	// fell back to miss/no-op behavior.
	StateDegraded State = "degraded"

	// StateDisabled means caching is turned off entirely.
	StateDisabled State = "disabled"
)

// Entry is a cached list payload. This is also the wire format stored
// in Redis.
type Entry struct {
	// ETag identifies the payload revision for conditional requests.
	ETag string `json:"etag"`

	// Payload is the opaque JSON value computed for the query.
	Payload json.RawMessage `json:"payload"`
}

// Config holds the cache configuration.
type Config struct {
	// Namespace prefixes every key this cache writes.
	Namespace string

	// TTL is the entry lifetime. Orphaned entries from old versions
	// also disappear through this TTL.
	TTL time.Duration

	// Enabled turns the cache on. When false every Get is a miss and
	// every Set is a no-op.
	Enabled bool
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "crm",
		TTL:       60 * time.Second,
		Enabled:   true,
	}
}

// Versioned is the list-response cache.
type Versioned struct {
	redis  *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// NewVersioned creates a versioned cache. A nil Redis client constructs
// the cache in disabled mode.
func NewVersioned(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Versioned {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if redisClient == nil {
		cfg.Enabled = false
	}

	return &Versioned{
		redis:  redisClient,
		cfg:    cfg,
		logger: logger,
	}
}

// Get probes the cache for the query's current-version entry. It returns
// nil on a miss, on a corrupt entry, and in every non-OK state.
func (v *Versioned) Get(ctx context.Context, opts query.Options) (*Entry, State) {
	if !v.cfg.Enabled {
		return nil, StateDisabled
	}

	version, err := v.version(ctx)
	if err != nil {
		cacheErrors.WithLabelValues("version").Inc()
		v.logger.Warn().Err(err).Msg("Cache version read failed, degrading to miss")
		return nil, StateDegraded
	}

	key := v.entryKey(version, opts.Signature())

	data, err := v.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		cacheMisses.Inc()
		return nil, StateOK
	}
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		v.logger.Warn().Err(err).Str("key", key).Msg("Cache get failed, degrading to miss")
		return nil, StateDegraded
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: treat as miss, the next Set overwrites it.
		cacheErrors.WithLabelValues("decode").Inc()
		cacheMisses.Inc()
		v.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		return nil, StateOK
	}

	cacheHits.Inc()
	return &entry, StateOK
}

// Set stores the payload and its ETag under the current version with the
// configured TTL.
func (v *Versioned) Set(ctx context.Context, opts query.Options, payload json.RawMessage, etag string) State {
	if !v.cfg.Enabled {
		return StateDisabled
	}

	version, err := v.version(ctx)
	if err != nil {
		cacheErrors.WithLabelValues("version").Inc()
		v.logger.Warn().Err(err).Msg("Cache version read failed, skipping write")
		return StateDegraded
	}

	entry := Entry{ETag: etag, Payload: payload}
	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("encode").Inc()
		v.logger.Warn().Err(err).Msg("Cache entry encode failed, skipping write")
		return StateDegraded
	}

	key := v.entryKey(version, opts.Signature())
	if err := v.redis.Set(ctx, key, data, v.cfg.TTL).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		v.logger.Warn().Err(err).Str("key", key).Msg("Cache set failed")
		return StateDegraded
	}

	cacheWrites.Inc()
	return StateOK
}

// Invalidate bumps the version counter, orphaning every entry written
// under the previous version. This is the only invalidation mechanism;
// mutating collaborators must call it before reporting success. In
// disabled mode there is nothing to invalidate and the returned state
// says so.
func (v *Versioned) Invalidate(ctx context.Context) (int64, State, error) {
	if !v.cfg.Enabled {
		return 0, StateDisabled, nil
	}

	version, err := v.redis.Incr(ctx, v.versionKey()).Result()
	if err != nil {
		cacheErrors.WithLabelValues("invalidate").Inc()
		return 0, StateDegraded, fmt.Errorf("bump cache version: %w", err)
	}

	cacheInvalidations.Inc()
	v.logger.Info().Int64("version", version).Msg("List cache invalidated")
	return version, StateOK, nil
}

// version reads the current cache version, initializing it to 1 on first
// use. SETNX makes the bootstrap race-free: every concurrent first reader
// observes 1.
func (v *Versioned) version(ctx context.Context) (int64, error) {
	key := v.versionKey()

	if err := v.redis.SetNX(ctx, key, 1, 0).Err(); err != nil {
		return 0, fmt.Errorf("bootstrap cache version: %w", err)
	}

	version, err := v.redis.Get(ctx, key).Int64()
	if err != nil {
		return 0, fmt.Errorf("read cache version: %w", err)
	}
	return version, nil
}

func (v *Versioned) versionKey() string {
	return v.cfg.Namespace + ":version"
}

func (v *Versioned) entryKey(version int64, signature string) string {
	return fmt.Sprintf("%s:list:%d:%s", v.cfg.Namespace, version, signature)
}
