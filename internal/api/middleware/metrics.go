// Package middleware provides HTTP middleware components for the voice proxy server.
// This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/VoiceProxyAPI/internal/metrics"
)

// inFlight counts requests that have entered the middleware and not yet finished,
// whether or not metrics are enabled.
var inFlight atomic.Int64

// InFlight returns the number of requests currently being served.
func InFlight() int64 {
	return inFlight.Load()
}

// PrometheusMiddleware returns a Gin middleware that records request count, duration,
// body size and in-flight requests.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		inFlight.Add(1)
		defer inFlight.Add(-1)

		// Skip metrics endpoint to avoid self-referential metrics
		if !metrics.Enabled() || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		metrics.ActiveRequests.Inc()
		defer metrics.ActiveRequests.Dec()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		if c.Request.ContentLength > 0 {
			metrics.HTTPRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath maps URL paths to a bounded label set.
func normalizePath(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/healthz":
		return "/healthz"
	case path == "/chat/completions" || path == "/v1/chat/completions":
		return "/chat/completions"
	case path == "/speech-to-text" || path == "/v1/speech-to-text":
		return "/speech-to-text"
	case path == "/text-to-speech" || path == "/v1/text-to-speech":
		return "/text-to-speech"
	case path == "/memory" || strings.HasPrefix(path, "/memory/"):
		return "/memory/*"
	default:
		return "other"
	}
}
