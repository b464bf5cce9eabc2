package crm

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry behavior.
var (
	upstreamRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmgw_upstream_retries_total",
		Help: "Total number of upstream retry attempts",
	})

	upstreamRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmgw_upstream_retry_exhausted_total",
		Help: "Total number of upstream requests that exhausted retries",
	})
)

const (
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2.0
)

// retryWithBackoff runs fn up to cfg.MaxAttempts times with exponential
// backoff and ±20% jitter. Only retryable failures (server, throttle,
// network) repeat; the last error is returned unchanged so callers see
// the original taxonomy.
func (c *Client) retryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Msg("CRM request succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !retryable(err) {
			return lastErr
		}
		if attempt >= c.cfg.MaxAttempts {
			break
		}

		upstreamRetriesTotal.Inc()

		// ±20% jitter against synchronized retries from concurrent
		// requests.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))

		c.logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying CRM request after backoff")

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * backoffMultiplier)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	upstreamRetryExhaustedTotal.Inc()
	c.logger.Warn().
		Int("max_attempts", c.cfg.MaxAttempts).
		Err(lastErr).
		Msg("CRM retry attempts exhausted")

	return lastErr
}
