// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package metrics

import (
	"os"
	"syscall"
	"time"

	hmetrics "github.com/hashicorp/go-metrics"
)

var (
	// Path is the default path to write metrics.
	Path = "/var/log/streamdmetrics"

	// ReportInterval is the interval to report metrics.
	ReportInterval = 3 * time.Minute

	// AggregationInterval is the interval to aggregate metrics.
	AggregationInterval = 2 * time.Minute

	// RetentionPeriod is the retention period of metrics.
	RetentionPeriod = 10 * time.Minute
)

// memoryMetrics is a metrics collector that stores metrics in memory.
type memoryMetrics struct {
	sink *hmetrics.InmemSink

	reportingInterval time.Duration
	reportFilePath    string
}

var _ Metrics = &memoryMetrics{}

// RecordRequest records the time it takes to process a request.
func (m *memoryMetrics) RecordRequest(method string, handler string, duration float64) {
	m.recordLatency(duration, "server", method+"_"+handler)
}

// RecordUpstreamResponse records the time it takes for the upstream to respond to an operation.
func (m *memoryMetrics) RecordUpstreamResponse(hostname, op string, duration float64, count int64) {
	m.recordLatency(duration, hostname, op)
	m.recordBytes(count, hostname, op)

	if duration > 0 {
		m.recordSpeed(float64(count)/duration, hostname, op)
	}
}

// RecordCacheRead records the outcome of a positional read served by the cache.
func (m *memoryMetrics) RecordCacheRead(outcome string, duration float64) {
	m.recordLatency(duration, "cache", outcome)
}

// RecordRetry records a reconnect attempt against the upstream.
func (m *memoryMetrics) RecordRetry(hostname, op string) {
	m.sink.IncrCounter([]string{"retries", hostname, op}, 1)
}

// recordLatency records the time it takes to perform an operation.
func (m *memoryMetrics) recordLatency(duration float64, host, op string) {
	m.sink.AddSample([]string{"latency", host, op}, float32(duration))
}

// recordSpeed records the speed of a download from a host.
func (m *memoryMetrics) recordSpeed(speed float64, host, op string) {
	m.sink.AddSample([]string{"speed", host, op}, float32(speed))
}

// recordBytes records the number of bytes downloaded from a host.
func (m *memoryMetrics) recordBytes(bytes int64, host, op string) {
	m.sink.AddSample([]string{"bytes", host, op}, float32(bytes))
}

// reportPeriodically reports the current metrics to a file.
func (m *memoryMetrics) reportPeriodically() {
	go func() {
		ticker := time.NewTicker(m.reportingInterval)
		defer ticker.Stop()
		for range ticker.C {
			f, err := os.OpenFile(m.reportFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				hmetrics.NewInmemSignal(m.sink, hmetrics.DefaultSignal, f)

				_ = syscall.Kill(os.Getpid(), syscall.SIGUSR1)

				// Wait for flush.
				time.Sleep(20 * time.Millisecond)

				_ = f.Sync()
				f.Close()
			}
		}
	}()
}

// NewMemoryMetrics returns a new memory metrics collector.
func NewMemoryMetrics() Metrics {
	sink := hmetrics.NewInmemSink(AggregationInterval, RetentionPeriod)

	c := hmetrics.DefaultConfig("streamd")
	c.EnableRuntimeMetrics = false

	_, err := hmetrics.NewGlobal(c, sink)
	if err != nil {
		panic(err)
	}

	m := &memoryMetrics{sink, ReportInterval, Path}
	m.reportPeriodically()

	return m
}
