// Package crm provides the HTTP client for the upstream CRM's paginated
// REST API, with error classification and bounded retry.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream CRM calls.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmgw_upstream_requests_total",
		Help: "Total upstream CRM requests by resource and status",
	}, []string{"resource", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmgw_upstream_request_duration_seconds",
		Help:    "Upstream CRM request duration in seconds by resource",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"resource"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmgw_upstream_errors_total",
		Help: "Total upstream CRM errors by class",
	}, []string{"class"})
)

// Meta is the pagination metadata block of a CRM list response.
type Meta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalCount  int `json:"total_count"`
	TotalPages  int `json:"total_pages"`
}

// Links carries the CRM's own navigation URIs. They point into the CRM
// and are never exposed to gateway clients directly.
type Links struct {
	Self string `json:"self"`
	Next string `json:"next"`
	Prev string `json:"prev"`
}

// Page is one page of a CRM list response.
type Page struct {
	Data  []json.RawMessage `json:"data"`
	Meta  Meta              `json:"meta"`
	Links Links             `json:"links"`
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the CRM API root, e.g. "https://crm.internal/api/v2".
	BaseURL string

	// UserAgent identifies this gateway to the CRM.
	UserAgent string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxAttempts bounds retries for server/network failures
	// (including the initial attempt). Client errors never retry.
	MaxAttempts int

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "crm-gateway/1.0",
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
	}
}

// Client talks to the upstream CRM.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger
}

// New creates a CRM client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base URL is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig("").UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig("").Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig("").MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig("").InitialBackoff
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     log.With().Str("component", "crm-client").Logger(),
	}, nil
}

// FetchPage fetches one page of a CRM resource listing. Filters are
// forwarded verbatim; page and size become the CRM's page/per_page
// parameters.
//
// Failures map onto the gateway's taxonomy: network and timeout errors
// come back wrapped in ErrUnavailable, non-success statuses come back as
// *RequestError carrying the upstream status and body. Server-side and
// network failures are retried with backoff, client errors are not.
func (c *Client) FetchPage(ctx context.Context, resource string, filters map[string]string, page, size int) (*Page, error) {
	start := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	reqURL, err := c.pageURL(resource, filters, page, size)
	if err != nil {
		return nil, err
	}

	var result *Page

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			upstreamErrorsTotal.WithLabelValues(string(classNetwork)).Inc()
			upstreamRequestsTotal.WithLabelValues(resource, "network_error").Inc()
			c.logger.Warn().Err(err).Str("resource", resource).Int("page", page).Msg("CRM request failed")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		upstreamRequestsTotal.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			class := classifyStatus(resp.StatusCode)
			upstreamErrorsTotal.WithLabelValues(string(class)).Inc()

			c.logger.Warn().
				Str("resource", resource).
				Int("page", page).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("CRM returned an error status")

			return &RequestError{StatusCode: resp.StatusCode, Body: body}
		}

		var pageResp Page
		if err := json.NewDecoder(resp.Body).Decode(&pageResp); err != nil {
			upstreamErrorsTotal.WithLabelValues(string(classServer)).Inc()
			return &RequestError{
				StatusCode: resp.StatusCode,
				Body:       []byte(fmt.Sprintf("undecodable response body: %v", err)),
			}
		}

		result = &pageResp
		return nil
	}

	if err := c.retryWithBackoff(ctx, attempt); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("resource", resource).
		Int("page", page).
		Int("items", len(result.Data)).
		Int("total_pages", result.Meta.TotalPages).
		Msg("Fetched CRM page")

	return result, nil
}

// pageURL builds the upstream request URL for one page fetch.
func (c *Client) pageURL(resource string, filters map[string]string, page, size int) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	base = base.JoinPath(resource)

	q := url.Values{}
	for k, v := range filters {
		q.Set(k, v)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(size))
	base.RawQuery = q.Encode()

	return base.String(), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
