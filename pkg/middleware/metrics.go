// Package middleware provides the HTTP middleware shared by the archive's
// servers: request ids, CORS, Prometheus metrics and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
)

// Routes resolves a request to the pattern it will be served by.
// *http.ServeMux satisfies it.
type Routes interface {
	Handler(r *http.Request) (h http.Handler, pattern string)
}

// unmatchedRoute labels requests no pattern serves.
const unmatchedRoute = "unmatched"

// Metrics returns middleware that records HTTP request count, latency, and
// in-flight gauge. Requests are labelled by the route pattern that serves
// them, so the label set is bounded by the routes registered on routes.
func Metrics(m *metrics.Metrics, routes Routes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(start).Seconds()
			path := routeLabel(routes, r)

			m.HTTPRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(sw.status),
			).Inc()

			m.HTTPRequestDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// routeLabel returns the path part of the pattern matching r, such as
// "/api/conversation/{id}".
func routeLabel(routes Routes, r *http.Request) string {
	_, pattern := routes.Handler(r)
	if pattern == "" {
		return unmatchedRoute
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}
