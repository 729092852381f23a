// Package metrics exposes Prometheus collectors for the chain layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chain_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chain_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chain_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	submissionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chain_layer",
			Subsystem: "submissions",
			Name:      "attempts_total",
			Help:      "Total number of network submission attempts.",
		},
		[]string{"outcome"},
	)

	submissionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chain_layer",
			Subsystem: "submissions",
			Name:      "finished_total",
			Help:      "Total number of submissions reaching a terminal state.",
		},
		[]string{"status"},
	)

	pollAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chain_layer",
			Subsystem: "submissions",
			Name:      "poll_attempts_total",
			Help:      "Total number of transaction status lookups by the poll loop.",
		},
	)

	entitlementChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chain_layer",
			Subsystem: "entitlement",
			Name:      "checks_total",
			Help:      "Total number of entitlement checks by answer source.",
		},
		[]string{"source"},
	)

	renewalSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chain_layer",
			Subsystem: "renewal",
			Name:      "sweep_results_total",
			Help:      "Subscriptions checked by the renewal scanner.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		submissionAttempts,
		submissionsFinished,
		pollAttempts,
		entitlementChecks,
		renewalSweeps,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SubmissionAttempt records one network submission attempt.
func SubmissionAttempt(outcome string) {
	submissionAttempts.WithLabelValues(outcome).Inc()
}

// SubmissionFinished records a submission reaching a terminal state.
func SubmissionFinished(status string) {
	submissionsFinished.WithLabelValues(status).Inc()
}

// PollAttempt records one poll-loop lookup.
func PollAttempt() {
	pollAttempts.Inc()
}

// EntitlementCheck records an entitlement check with its answer source:
// "cache", "ledger" or "unavailable".
func EntitlementCheck(source string) {
	entitlementChecks.WithLabelValues(source).Inc()
}

// RenewalSweep records a renewal scanner verdict for one subscription.
func RenewalSweep(result string) {
	renewalSweeps.WithLabelValues(result).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "subscriptions":
		if len(parts) >= 3 && parts[1] == "checkout" {
			if len(parts) == 3 {
				return "/subscriptions/checkout/:id"
			}
			return "/subscriptions/checkout/:id/" + parts[3]
		}
		return "/" + strings.Join(parts, "/")
	case "entitlements":
		return "/entitlements/:fan/:creator"
	case "plans":
		if len(parts) > 1 {
			return "/plans/:id"
		}
		return "/plans"
	default:
		return "/" + parts[0]
	}
}
