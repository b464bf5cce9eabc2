package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/campusops/crm-gateway/pkg/cache"
	"github.com/campusops/crm-gateway/pkg/crm"
	"github.com/campusops/crm-gateway/pkg/listing"
	"github.com/campusops/crm-gateway/pkg/query"
)

// server is the gateway's HTTP surface.
type server struct {
	svc       *listing.Service
	resources map[string]bool
	mux       *http.ServeMux
	logger    zerolog.Logger
}

func newServer(svc *listing.Service, exposed []string, logger zerolog.Logger) *server {
	allowed := make(map[string]bool, len(exposed))
	for _, r := range exposed {
		allowed[r] = true
	}

	s := &server{
		svc:       svc,
		resources: allowed,
		mux:       http.NewServeMux(),
		logger:    logger,
	}

	s.mux.HandleFunc("/api/cache/invalidate", s.handleInvalidate)
	s.mux.HandleFunc("/api/", s.handleList)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleList serves GET /api/{resource}.
func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	resource := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
	if !s.resources[resource] {
		writeError(w, http.StatusNotFound, "unknown_resource", "unknown resource "+strconv.Quote(resource))
		return
	}

	resp, err := s.svc.List(r.Context(), listing.Request{
		Resource:   resource,
		Params:     r.URL.Query(),
		RequestURI: r.URL,
	})
	if err != nil {
		s.writeListError(w, r, resource, err)
		return
	}

	if resp.RateLimit != nil {
		setRateLimitHeaders(w, resp.RateLimit.Limit, resp.RateLimit.Remaining, resp.RateLimit.ResetAt)
	}

	w.Header().Set("ETag", resp.ETag)
	if resp.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == resp.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Payload)
}

// writeListError maps the listing service's error taxonomy onto HTTP.
func (s *server) writeListError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	var validationErr *query.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid_query",
			"fields": validationErr.Fields,
		})
		return
	}

	var limitedErr *listing.RateLimitedError
	if errors.As(err, &limitedErr) {
		setRateLimitHeaders(w, limitedErr.Result.Limit, limitedErr.Result.Remaining, limitedErr.Result.ResetAt)
		if !limitedErr.Result.ResetAt.IsZero() {
			retryAfter := int(time.Until(limitedErr.Result.ResetAt).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited", "request budget exhausted, retry later")
		return
	}

	var upstreamErr *crm.RequestError
	if errors.As(err, &upstreamErr) {
		s.logger.Error().
			Str("resource", resource).
			Int("upstream_status", upstreamErr.StatusCode).
			Msg("Upstream request failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":           "upstream_error",
			"upstream_status": upstreamErr.StatusCode,
		})
		return
	}

	if errors.Is(err, crm.ErrUnavailable) {
		s.logger.Error().Str("resource", resource).Err(err).Msg("Upstream unreachable")
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "upstream CRM is unreachable")
		return
	}

	s.logger.Error().Str("resource", resource).Err(err).Msg("List request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// handleInvalidate serves POST /api/cache/invalidate. Mutating clients
// call it after a write so their next read cannot see stale lists.
func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	version, state, err := s.svc.Invalidate(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Cache invalidation failed")
		writeError(w, http.StatusServiceUnavailable, "invalidation_failed", "cache store unreachable")
		return
	}

	if state == cache.StateDisabled {
		writeJSON(w, http.StatusOK, map[string]any{"state": string(state)})
		return
	}

	s.logger.Info().Int64("version", version).Msg("Cache invalidated")
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "state": string(state)})
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
	if !resetAt.IsZero() {
		w.Header().Set("RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}
