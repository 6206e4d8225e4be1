package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readiness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})
)

// Deadline scan metrics.
var (
	scanRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deadline_scan_runs_total",
		Help: "Completed deadline scan passes.",
	})

	scanEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadline_scan_evaluated_total",
			Help: "Entities evaluated by the deadline scan.",
		},
		[]string{"entity_type"},
	)

	scanFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadline_scan_failures_total",
			Help: "Per-entity-type failures during deadline scans.",
		},
		[]string{"entity_type"},
	)

	alertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Alert ledger transitions by kind (created, updated, resolved, acknowledged).",
		},
		[]string{"kind"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readiness,
		scanRunsTotal, scanEvaluatedTotal, scanFailuresTotal, alertTransitionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readiness.Set(1)
		return
	}
	readiness.Set(0)
}

// ScanRunCompleted increments the scan pass counter.
func ScanRunCompleted() { scanRunsTotal.Inc() }

// ScanEvaluated records evaluated entities for one entity type.
func ScanEvaluated(entityType string, n int) {
	if n > 0 {
		scanEvaluatedTotal.WithLabelValues(entityType).Add(float64(n))
	}
}

// ScanFailed records per-type scan failures.
func ScanFailed(entityType string, n int) {
	if n > 0 {
		scanFailuresTotal.WithLabelValues(entityType).Add(float64(n))
	}
}

// AlertTransition records one alert ledger transition.
func AlertTransition(kind string) {
	alertTransitionsTotal.WithLabelValues(kind).Inc()
}

// CanonicalPath collapses per-resource path segments so metric labels stay
// bounded: /v1/alerts/<id> becomes /v1/alerts/:id.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(path, "/v1/alerts/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/v1/alerts/:id"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
