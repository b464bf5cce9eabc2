// Package metrics provides the Prometheus registry reference for the
// CRM gateway. Metrics are defined in their owning packages (cache,
// ratelimit, crm, listing) via promauto to keep them next to the code
// they observe; this package documents the full set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the gateway.
// All metrics auto-register here via promauto.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - crmgw_cache_hits_total (Counter): list cache hits
//   - crmgw_cache_misses_total (Counter): list cache misses
//   - crmgw_cache_writes_total (Counter): list cache writes
//   - crmgw_cache_invalidations_total (Counter): version bumps
//   - crmgw_cache_errors_total{operation} (Counter): cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - crmgw_ratelimit_allowed_total (Counter): requests allowed
//   - crmgw_ratelimit_blocked_total (Counter): requests blocked
//   - crmgw_ratelimit_failopen_total (Counter): fail-open decisions
//
// Upstream Metrics (pkg/crm):
//   - crmgw_upstream_requests_total{resource, status} (Counter)
//   - crmgw_upstream_request_duration_seconds{resource} (Histogram)
//   - crmgw_upstream_errors_total{class} (Counter): by class
//     (client, server, throttle, network)
//   - crmgw_upstream_retries_total (Counter)
//   - crmgw_upstream_retry_exhausted_total (Counter)
//
// Listing Metrics (pkg/listing):
//   - crmgw_list_requests_total{resource, outcome} (Counter): by outcome
//     (cache_hit, fetched, rate_limited, invalid, upstream_error)
//
// Example Prometheus Queries:
//
//   # Cache hit rate
//   sum(rate(crmgw_cache_hits_total[5m])) /
//   (sum(rate(crmgw_cache_hits_total[5m])) + sum(rate(crmgw_cache_misses_total[5m])))
//
//   # Upstream error rate
//   rate(crmgw_upstream_errors_total[5m])
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(crmgw_upstream_request_duration_seconds_bucket[5m]))
//
//   # Requests shed by the limiter
//   rate(crmgw_ratelimit_blocked_total[5m])
