package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	Requests         *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triageflow",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by route, method and response status.",
		}, []string{"route", "method", "code"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triageflow",
			Subsystem: "proxy",
			Name:      "upstream_failures_total",
			Help:      "Requests that could not reach the upstream API.",
		}, []string{"route"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triageflow",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Round trip time to the upstream API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.Requests, m.UpstreamFailures, m.Duration)
	return m
}
