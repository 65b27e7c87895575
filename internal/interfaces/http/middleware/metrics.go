package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/prometheus"
)

// Metrics records per-request counters and latency histograms.  The route
// label uses the chi route pattern rather than the raw path, keeping the
// metric cardinality bounded.
func Metrics(collector *prometheus.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newWrappedResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			if route == "" {
				route = "unmatched"
			}
			collector.ObserveHTTPRequest(r.Method, route, wrapped.statusCode, time.Since(start))
		})
	}
}
