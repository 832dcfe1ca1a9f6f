// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability implements the ConnectionTracker (spec.md §4
// Observability): latency percentiles over a bounded sliding window,
// error/route histograms, and live traffic counters, exported via
// Prometheus the way the teacher's telemetry/churn package does.
package observability

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// windowSize bounds the in-memory latency sample ring, trading precision
// for a fixed memory footprint.
const windowSize = 2048

var (
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxyengine_connections_active",
		Help: "Number of sessions currently being relayed",
	})
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyengine_connections_total",
		Help: "Total sessions dispatched",
	})
	bytesUpTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyengine_bytes_uploaded_total",
		Help: "Total bytes relayed from inbound to outbound",
	})
	bytesDownTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyengine_bytes_downloaded_total",
		Help: "Total bytes relayed from outbound to inbound",
	})
	latencyHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxyengine_session_latency_ms",
		Help:    "Distribution of recorded session latencies in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyengine_errors_total",
		Help: "Total errors observed, labeled by error kind",
	}, []string{"kind"})
	routeHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyengine_route_hits_total",
		Help: "Total rule matches, labeled by rule descriptor",
	}, []string{"rule"})
)

func init() {
	prometheus.MustRegister(connectionsActive, connectionsTotal, bytesUpTotal, bytesDownTotal,
		latencyHistogram, errorsTotal, routeHitsTotal)
}

// Guard is returned by Track; Close decrements the active-connection gauge
// when the session ends, and calls after the first are no-ops.
type Guard struct {
	tracker *ConnectionTracker
	closed  atomic.Bool
}

func (g *Guard) Close() {
	if g.closed.CompareAndSwap(false, true) {
		connectionsActive.Dec()
	}
}

// ConnectionTracker aggregates per-session observability signals. All
// public methods are safe for concurrent use from every session goroutine.
type ConnectionTracker struct {
	mu      sync.Mutex
	samples [windowSize]float64
	count   uint64 // monotonically increasing; index = count % windowSize
}

func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{}
}

// Track registers the start of a session and returns a Guard whose Close
// marks its end. ruleDescriptor is recorded as a route-hit label when
// non-empty; outboundTag is not recorded, and no matched rule-set name is
// taken or recorded.
func (t *ConnectionTracker) Track(outboundTag, ruleDescriptor string) *Guard {
	connectionsActive.Inc()
	connectionsTotal.Inc()
	if ruleDescriptor != "" {
		routeHitsTotal.WithLabelValues(ruleDescriptor).Inc()
	}
	return &Guard{tracker: t}
}

// RecordLatencyMs appends one latency sample (milliseconds) to the sliding
// window and the Prometheus histogram.
func (t *ConnectionTracker) RecordLatencyMs(ms float64) {
	latencyHistogram.Observe(ms)

	t.mu.Lock()
	idx := t.count % windowSize
	t.samples[idx] = ms
	t.count++
	t.mu.Unlock()
}

// RecordError increments the error counter for code.
func (t *ConnectionTracker) RecordError(code string) {
	errorsTotal.WithLabelValues(code).Inc()
}

// RecordRouteHit increments the route-hit counter for ruleDescriptor.
func (t *ConnectionTracker) RecordRouteHit(ruleDescriptor string) {
	routeHitsTotal.WithLabelValues(ruleDescriptor).Inc()
}

// RecordBytes adds up/down byte counts to the live traffic counters.
func (t *ConnectionTracker) RecordBytes(up, down uint64) {
	if up > 0 {
		bytesUpTotal.Add(float64(up))
	}
	if down > 0 {
		bytesDownTotal.Add(float64(down))
	}
}

// Percentiles computes p50/p95/p99 over the currently held sliding window.
func (t *ConnectionTracker) Percentiles() (p50, p95, p99 float64) {
	t.mu.Lock()
	n := t.count
	if n > windowSize {
		n = windowSize
	}
	vals := make([]float64, n)
	copy(vals, t.samples[:n])
	t.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}
	sort.Float64s(vals)
	return percentileOf(vals, 0.50), percentileOf(vals, 0.95), percentileOf(vals, 0.99)
}

func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
