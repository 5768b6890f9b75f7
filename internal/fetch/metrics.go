// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package fetch

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Manager's Prometheus collectors. A nil Registerer
// passed to newMetrics disables metrics entirely, mirroring the
// nil-tracer idiom of telemetry.go.
type metrics struct {
	inflightRequests prometheus.Gauge
	cacheHitsTotal   *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return &metrics{}
	}

	m := &metrics{
		inflightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchgate_inflight_requests",
			Help: "Number of semaphore permits currently in use.",
		}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchgate_cache_hits_total",
			Help: "Cache hits by tier (l1, l2_buffered, l2_stream, inflight).",
		}, []string{"tier"}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetchgate_upstream_duration_seconds",
			Help:    "Upstream round-trip latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.inflightRequests, m.cacheHitsTotal, m.upstreamDuration)
	return m
}

func (m *metrics) setInflight(n int) {
	if m == nil || m.inflightRequests == nil {
		return
	}
	m.inflightRequests.Set(float64(n))
}

func (m *metrics) recordHit(tier string) {
	if m == nil || m.cacheHitsTotal == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(tier).Inc()
}

func (m *metrics) observeUpstreamSeconds(seconds float64) {
	if m == nil || m.upstreamDuration == nil {
		return
	}
	m.upstreamDuration.Observe(seconds)
}
