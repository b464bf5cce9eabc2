// Package config loads the gateway configuration from an optional YAML
// file with CRMGW_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// RedisConfig configures the shared key-value store. An empty Addr runs
// the cache and rate limiter in disabled mode.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// UpstreamConfig configures the CRM client.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"min=1s"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// CacheConfig configures the versioned list cache.
type CacheConfig struct {
	Namespace string        `mapstructure:"namespace" validate:"required"`
	TTL       time.Duration `mapstructure:"ttl" validate:"min=1s"`
	Enabled   bool          `mapstructure:"enabled"`
}

// RateLimitConfig configures the fixed-window limiter. Limit 0 disables
// limiting.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit" validate:"min=0"`
	Window time.Duration `mapstructure:"window" validate:"min=1s"`
}

// AggregatorConfig configures fetch-all aggregation.
type AggregatorConfig struct {
	MaxPages int `mapstructure:"max_pages" validate:"min=1"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("upstream.user_agent", "crm-gateway/1.0")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.max_attempts", 3)
	v.SetDefault("upstream.initial_backoff", "1s")
	v.SetDefault("cache.namespace", "crm")
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("rate_limit.limit", 120)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("aggregator.max_pages", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CRMGW")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}
