// Package metrics exposes the Prometheus collectors of the pack engine.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mysterypack"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	packOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "packs",
			Name:      "opens_total",
			Help:      "Pack-open attempts by pack and result.",
		},
		[]string{"pack", "result"},
	)

	packOpenDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "packs",
			Name:      "open_duration_seconds",
			Help:      "Duration of the pack-open critical section.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"pack"},
	)

	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Ledger transactions appended, by type.",
		},
		[]string{"type"},
	)

	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "retries_total",
			Help:      "Retries after transient storage contention, by operation.",
		},
		[]string{"op"},
	)

	reconcileDrift = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconcile_drift_total",
			Help:      "Accounts whose materialized balance disagreed with the transaction fold.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		packOpens,
		packOpenDuration,
		ledgerTransactions,
		retries,
		reconcileDrift,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
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

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordPackOpen records one pack-open attempt. result is "ok", "replayed"
// or an error class.
func RecordPackOpen(packID, result string, duration time.Duration) {
	if packID == "" {
		packID = "unknown"
	}
	packOpens.WithLabelValues(packID, result).Inc()
	if duration > 0 {
		packOpenDuration.WithLabelValues(packID).Observe(duration.Seconds())
	}
}

// RecordLedgerTransaction counts an appended ledger transaction.
func RecordLedgerTransaction(txType string) {
	ledgerTransactions.WithLabelValues(txType).Inc()
}

// RecordRetry counts one retry of op.
func RecordRetry(op string) {
	retries.WithLabelValues(op).Inc()
}

// RecordReconcileDrift counts an account found out of balance.
func RecordReconcileDrift() {
	reconcileDrift.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// idResources are path segments followed by an identifier.
var idResources = map[string]bool{
	"packs":    true,
	"outcomes": true,
}

// fixedSegments are literal segments that may follow an id resource.
var fixedSegments = map[string]bool{
	"open": true,
}

// CanonicalPath replaces identifiers in a request path so labels stay bounded.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i := 1; i < len(parts); i++ {
		if idResources[parts[i-1]] && !fixedSegments[parts[i]] {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
