// Package metrics holds Prometheus instruments that are used across the
// framework.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_requests_total",
			Help: "Inbound HTTP requests by dispatch outcome.",
		}, []string{"outcome"})

	ActionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_action_errors_total",
			Help: "Cumulative number of action invocations that errored.",
		})

	CacheHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_cache_hit_total",
			Help: "Cumulative cache facade hits across all regions.",
		})

	CacheMissTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_cache_miss_total",
			Help: "Cumulative cache facade misses across all regions.",
		})

	ThrottleBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_throttle_blocked_total",
			Help: "Requests rejected by the per-IP failure throttle.",
		})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		ActionErrorsTotal,
		CacheHitTotal,
		CacheMissTotal,
		ThrottleBlockedTotal,
	)
}
