// Package metrics provides a metrics collector that stores metrics in Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics is a metrics collector that stores metrics in Prometheus.
type promMetrics struct {
	requestDuration          *prometheus.HistogramVec
	upstreamResponseDuration *prometheus.HistogramVec
	cacheReadDuration        *prometheus.HistogramVec
	retries                  *prometheus.CounterVec
}

var _ Metrics = &promMetrics{}

// RecordRequest records the duration of a request for a specific method and handler.
func (m *promMetrics) RecordRequest(method string, handler string, duration float64) {
	m.requestDuration.WithLabelValues(method, handler).Observe(duration)
}

// RecordUpstreamResponse records the duration and count of an upstream response.
// It calculates the speed of the response and updates the corresponding Prometheus metric.
func (m *promMetrics) RecordUpstreamResponse(hostname string, op string, duration float64, count int64) {
	speed := float64(count) / duration
	m.upstreamResponseDuration.WithLabelValues(hostname, op).Observe(speed)
}

// RecordCacheRead records the duration of a cache read with its outcome.
func (m *promMetrics) RecordCacheRead(outcome string, duration float64) {
	m.cacheReadDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordRetry records a reconnect attempt against the upstream.
func (m *promMetrics) RecordRetry(hostname string, op string) {
	m.retries.WithLabelValues(hostname, op).Inc()
}

// NewPromMetrics creates a new instance of promMetrics.
func NewPromMetrics(reg prometheus.Registerer) *promMetrics {

	requestDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "streamd_request_duration_seconds",
		Help: "Duration of requests in seconds.",
	}, []string{"method", "handler"})
	reg.MustRegister(requestDurationHist)

	upstreamResponseDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "streamd_upstream_response_speed_bytes_per_second",
		Help: "Speed of upstream response in bytes per second.",
	}, []string{"hostname", "op"})
	reg.MustRegister(upstreamResponseDurationHist)

	cacheReadDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "streamd_cache_read_duration_seconds",
		Help: "Duration of positional reads served by the cache in seconds.",
	}, []string{"outcome"})
	reg.MustRegister(cacheReadDurationHist)

	retriesCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamd_upstream_retries_total",
		Help: "Number of reconnect attempts against the upstream.",
	}, []string{"hostname", "op"})
	reg.MustRegister(retriesCounter)

	return &promMetrics{
		requestDuration:          requestDurationHist,
		upstreamResponseDuration: upstreamResponseDurationHist,
		cacheReadDuration:        cacheReadDurationHist,
		retries:                  retriesCounter,
	}
}
