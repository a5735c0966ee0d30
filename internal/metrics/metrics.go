// Package metrics holds the Prometheus collectors for the voice proxy. Recording is a no-op
// until SetEnabled(true) is called, so packages can record unconditionally.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts the total number of HTTP requests processed.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceproxy_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds tracks the duration of HTTP requests.
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceproxy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSizeBytes tracks the size of HTTP request bodies.
	HTTPRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceproxy_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// ActiveRequests tracks in-flight HTTP requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voiceproxy_active_requests",
			Help: "Number of in-flight HTTP requests",
		},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceproxy_upstream_requests_total",
			Help: "Hosted service calls by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	upstreamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceproxy_upstream_request_duration_seconds",
			Help:    "Duration of hosted service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	memoryEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voiceproxy_memory_events",
			Help: "Number of events held by the memory store",
		},
	)

	chatStreamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceproxy_chat_stream_chunks_total",
			Help: "Chat completion chunks forwarded to clients",
		},
	)

	ttsChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceproxy_tts_chunks_total",
			Help: "Text chunks sent to the speech synthesis service",
		},
	)

	registered atomic.Bool
	enabled    atomic.Bool
)

// SetEnabled toggles metrics collection.
func SetEnabled(on bool) {
	enabled.Store(on)
	if on {
		Register()
	}
}

// Enabled reports whether metrics are collected.
func Enabled() bool {
	return enabled.Load()
}

// Register registers all collectors with the default registry.
// It is safe to call multiple times; collectors are only registered once.
func Register() {
	if !registered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		HTTPRequestSizeBytes,
		ActiveRequests,
		upstreamRequestsTotal,
		upstreamDurationSeconds,
		memoryEvents,
		chatStreamChunksTotal,
		ttsChunksTotal,
	)
}

// Handler serves the default registry, or 404 while metrics are disabled.
func Handler() http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// RecordUpstream records one hosted call. outcome is "ok" or "error".
func RecordUpstream(service, outcome string, seconds float64) {
	if !Enabled() {
		return
	}
	upstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
	upstreamDurationSeconds.WithLabelValues(service).Observe(seconds)
}

// SetMemoryEvents sets the memory store size gauge.
func SetMemoryEvents(n int) {
	if !Enabled() {
		return
	}
	memoryEvents.Set(float64(n))
}

// IncChatChunks counts one forwarded chat chunk.
func IncChatChunks() {
	if !Enabled() {
		return
	}
	chatStreamChunksTotal.Inc()
}

// AddTTSChunks counts text chunks sent for synthesis.
func AddTTSChunks(n int) {
	if !Enabled() || n <= 0 {
		return
	}
	ttsChunksTotal.Add(float64(n))
}
