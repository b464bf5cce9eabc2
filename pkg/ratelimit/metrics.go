package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	limiterAllowed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmgw_ratelimit_allowed_total",
		Help: "Total number of requests allowed by the rate limiter",
	})

	limiterBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmgw_ratelimit_blocked_total",
		Help: "Total number of requests blocked by the rate limiter",
	})

	limiterFailOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crmgw_ratelimit_failopen_total",
		Help: "Total number of limiter decisions that failed open due to store errors",
	})
)
