// Package metrics holds the bridge's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CloudRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myq_cloud_requests_total",
			Help: "Total number of myQ cloud requests by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	CloudRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "myq_cloud_request_duration_seconds",
			Help:    "Duration of myQ cloud requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myq_token_refreshes_total",
			Help: "Total number of OAuth token exchanges.",
		},
		[]string{"flow", "result"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myq_polls_total",
			Help: "Total number of device polls by outcome.",
		},
		[]string{"kind", "result"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myq_commands_total",
			Help: "Total number of device commands sent.",
		},
		[]string{"command", "result"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myq_api_http_requests_total",
			Help: "Total number of local API requests.",
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default registry.
// Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CloudRequestsTotal,
			CloudRequestDurationSeconds,
			TokenRefreshesTotal,
			PollsTotal,
			CommandsTotal,
			HTTPRequestsTotal,
		)
	})
}
