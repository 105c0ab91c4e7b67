// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics defines an interface to collect stream cache metrics.
type Metrics interface {
	// RecordRequest records the time it takes to process a request.
	RecordRequest(method, handler string, duration float64)

	// RecordUpstreamResponse records the time it takes for the upstream to respond to an operation.
	RecordUpstreamResponse(hostname, op string, duration float64, count int64)

	// RecordCacheRead records the outcome of a positional read served by the cache.
	RecordCacheRead(outcome string, duration float64)

	// RecordRetry records a reconnect attempt against the upstream.
	RecordRetry(hostname, op string)
}

// Cache read outcomes.
const (
	CacheReadHit      = "hit"
	CacheReadDeferred = "deferred"
	CacheReadEOF      = "eof"
	CacheReadError    = "error"
)

// Global is the global metrics collector.
var Global Metrics = NewPromMetrics(prometheus.DefaultRegisterer)
