package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusops/crm-gateway/internal/config"
	"github.com/campusops/crm-gateway/pkg/cache"
	"github.com/campusops/crm-gateway/pkg/crm"
	"github.com/campusops/crm-gateway/pkg/listing"
	"github.com/campusops/crm-gateway/pkg/logging"
	"github.com/campusops/crm-gateway/pkg/pagination"
	"github.com/campusops/crm-gateway/pkg/query"
	"github.com/campusops/crm-gateway/pkg/ratelimit"
)

// resources lists the CRM collections the gateway exposes.
var resources = []string{"orders", "campaigns"}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallbackLogger := logging.Setup(logging.DefaultConfig())
		fallbackLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})
	logger := logging.NewLogger("main")

	// An unreachable store degrades the cache and rate limiter; it must
	// not keep the gateway from serving.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).
				Msg("Redis unreachable, cache and rate limiter run degraded")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
		cancel()
	} else {
		logger.Info().Msg("No Redis configured, cache and rate limiter disabled")
	}

	upstream, err := crm.New(crm.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		UserAgent:      cfg.Upstream.UserAgent,
		Timeout:        cfg.Upstream.Timeout,
		MaxAttempts:    cfg.Upstream.MaxAttempts,
		InitialBackoff: cfg.Upstream.InitialBackoff,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create CRM client")
	}

	cacheCfg := cache.Config{
		Namespace: cfg.Cache.Namespace,
		TTL:       cfg.Cache.TTL,
		Enabled:   cfg.Cache.Enabled,
	}

	svc := listing.NewService(
		query.NewMapper(query.DefaultMapperConfig()),
		cache.NewVersioned(redisClient, cacheCfg, logging.NewLogger("cache")),
		ratelimit.NewLimiter(redisClient, logging.NewLogger("ratelimit")),
		pagination.NewAggregator(pagination.Config{MaxPages: cfg.Aggregator.MaxPages}),
		upstream,
		listing.Config{RateLimit: cfg.RateLimit.Limit, RateWindow: cfg.RateLimit.Window},
		logging.NewLogger("listing"),
	)

	srv := newServer(svc, resources, logging.NewLogger("http"))

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("upstream", cfg.Upstream.BaseURL).
		Strs("resources", resources).
		Msg("Starting CRM gateway")

	if err := http.ListenAndServe(cfg.Server.Addr, srv); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
