// Package listing orchestrates the gateway's read path: canonical query
// mapping, the versioned cache probe, the rate-limit gate, upstream page
// aggregation, and link reconstruction.
//
// Per-request ordering is fixed: the cache is probed before the rate
// limiter and before any upstream fetch; the limiter is consulted before
// the first upstream call; the cache is filled after a successful fetch
// and before the response is returned. Concurrent requests coordinate
// only through the shared store's atomic primitives - two simultaneous
// misses for one signature may both fetch and both write, and the second
// write wins, which is fine because both carry equally fresh data.
package listing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/campusops/crm-gateway/pkg/cache"
	"github.com/campusops/crm-gateway/pkg/crm"
	"github.com/campusops/crm-gateway/pkg/pagination"
	"github.com/campusops/crm-gateway/pkg/query"
	"github.com/campusops/crm-gateway/pkg/ratelimit"
)

var listRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crmgw_list_requests_total",
	Help: "Total list requests by resource and outcome",
}, []string{"resource", "outcome"}) // "cache_hit", "fetched", "rate_limited", "invalid", "upstream_error"

// RateLimitedError is returned when the request budget is exhausted
// before any upstream call was made. The HTTP layer maps the embedded
// result to 429 and RateLimit-* headers.
type RateLimitedError struct {
	Result ratelimit.Result
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit %d)", e.Result.Limit)
}

// Config holds the listing service configuration.
type Config struct {
	// RateLimit is the request budget per window for each resource.
	// Zero disables limiting.
	RateLimit int

	// RateWindow is the fixed-window length.
	RateWindow time.Duration
}

// DefaultConfig returns the default listing configuration.
func DefaultConfig() Config {
	return Config{
		RateLimit:  120,
		RateWindow: time.Minute,
	}
}

// Request is one inbound list request.
type Request struct {
	// Resource is the CRM collection name, e.g. "orders".
	Resource string

	// Params are the raw query parameters.
	Params url.Values

	// RequestURI is the inbound URI, used as the base for link
	// reconstruction. It is never mutated.
	RequestURI *url.URL
}

// Response is a completed list result.
type Response struct {
	// Payload is the JSON envelope ({"data":..., "meta":..., "links":...}).
	Payload json.RawMessage

	// ETag identifies the payload revision.
	ETag string

	// CacheHit reports whether the payload came from the cache.
	CacheHit bool

	// RateLimit carries the limiter decision when one was made (cache
	// hits never consult the limiter).
	RateLimit *ratelimit.Result
}

// envelope is the client-facing wire format.
type envelope struct {
	Data  []json.RawMessage    `json:"data"`
	Meta  crm.Meta             `json:"meta"`
	Links pagination.PageLinks `json:"links"`
}

// Service is the read-path orchestrator.
type Service struct {
	mapper     *query.Mapper
	lists      *cache.Versioned
	limiter    *ratelimit.Limiter
	aggregator *pagination.Aggregator
	upstream   *crm.Client
	cfg        Config
	logger     zerolog.Logger
}

// NewService wires the read path together.
func NewService(
	mapper *query.Mapper,
	lists *cache.Versioned,
	limiter *ratelimit.Limiter,
	aggregator *pagination.Aggregator,
	upstream *crm.Client,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultConfig().RateWindow
	}

	return &Service{
		mapper:     mapper,
		lists:      lists,
		limiter:    limiter,
		aggregator: aggregator,
		upstream:   upstream,
		cfg:        cfg,
		logger:     logger,
	}
}

// List serves one list request. Failure modes: *query.ValidationError
// for bad input (nothing else ran), *RateLimitedError when the budget is
// exhausted, and the upstream client's errors surfaced unchanged.
func (s *Service) List(ctx context.Context, req Request) (*Response, error) {
	opts, err := s.mapper.ParseList(req.Params)
	if err != nil {
		listRequestsTotal.WithLabelValues(req.Resource, "invalid").Inc()
		return nil, err
	}

	if entry, state := s.lists.Get(ctx, opts); entry != nil {
		listRequestsTotal.WithLabelValues(req.Resource, "cache_hit").Inc()
		s.logger.Debug().
			Str("resource", req.Resource).
			Str("state", string(state)).
			Msg("Serving list from cache")
		return &Response{Payload: entry.Payload, ETag: entry.ETag, CacheHit: true}, nil
	}

	limit := s.limiter.Hit(ctx, "upstream:"+req.Resource, s.cfg.RateLimit, s.cfg.RateWindow)
	if !limit.Allowed {
		listRequestsTotal.WithLabelValues(req.Resource, "rate_limited").Inc()
		return nil, &RateLimitedError{Result: limit}
	}

	filters := opts.UpstreamQuery()
	fetch := func(ctx context.Context, page, size int) (*crm.Page, error) {
		return s.upstream.FetchPage(ctx, req.Resource, filters, page, size)
	}

	result, err := s.aggregator.Execute(ctx, opts, fetch)
	if err != nil {
		listRequestsTotal.WithLabelValues(req.Resource, "upstream_error").Inc()
		return nil, err
	}

	links := pagination.BuildLinks(req.RequestURI, opts, result.Meta, result.UpstreamLinks)

	payload, err := json.Marshal(envelope{
		Data:  emptyAsList(result.Items),
		Meta:  result.Meta,
		Links: links,
	})
	if err != nil {
		return nil, fmt.Errorf("encode list payload: %w", err)
	}

	etag := payloadETag(payload)
	s.lists.Set(ctx, opts, payload, etag)

	listRequestsTotal.WithLabelValues(req.Resource, "fetched").Inc()

	return &Response{
		Payload:   payload,
		ETag:      etag,
		RateLimit: &limit,
	}, nil
}

// Invalidate bumps the cache version. Every collaborator that mutates
// the underlying resource set must call this before reporting success,
// so the mutating client's next read cannot observe pre-mutation cached
// content. The state distinguishes a real bump from a disabled cache.
func (s *Service) Invalidate(ctx context.Context) (int64, cache.State, error) {
	return s.lists.Invalidate(ctx)
}

// payloadETag mints a strong ETag over the payload bytes.
func payloadETag(payload []byte) string {
	sum := sha256.Sum256(payload)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// emptyAsList keeps an empty result marshaling as [] rather than null.
func emptyAsList(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}
