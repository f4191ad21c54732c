// Package telemetry provides lightweight request timing: every request
// feeds the Prometheus latency histogram, and requests slower than a
// threshold get a log line.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatstore/pkg/logger"
	"chatstore/pkg/metrics"
)

var slowThreshold = 200 * time.Millisecond

// SetSlowThreshold sets the duration above which requests get a log line.
func SetSlowThreshold(d time.Duration) {
	if d > 0 {
		slowThreshold = d
	}
}

// Middleware wraps the provided handler and records request timing.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		dur := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		status := strconv.Itoa(srw.status/100) + "xx"
		metrics.RequestDuration.WithLabelValues(route, status).Observe(dur.Seconds())

		if dur > slowThreshold {
			logger.Warn("slow_request",
				"method", r.Method,
				"route", route,
				"status", srw.status,
				"duration_ms", dur.Milliseconds(),
			)
		}
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
