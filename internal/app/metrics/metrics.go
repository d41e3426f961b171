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
			Namespace: "diamond_ledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diamond_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diamond_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diamond_ledger",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger mutations attempted.",
		},
		[]string{"op", "outcome"},
	)

	ledgerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diamond_ledger",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger mutations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)

	burnedUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diamond_ledger",
			Subsystem: "burn",
			Name:      "units_total",
			Help:      "Total units destroyed by fee-burn settlements.",
		},
		[]string{"category"},
	)

	escrowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diamond_ledger",
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Total escrow lifecycle transitions.",
		},
		[]string{"to"},
	)

	auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diamond_ledger",
			Subsystem: "reconcile",
			Name:      "audits_total",
			Help:      "Total reconciliation passes by resulting health.",
		},
		[]string{"health"},
	)

	auditVariance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "diamond_ledger",
			Subsystem: "reconcile",
			Name:      "variance",
			Help:      "Variance observed by the most recent reconciliation pass.",
		},
	)

	ledgerFrozen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "diamond_ledger",
			Subsystem: "reconcile",
			Name:      "frozen",
			Help:      "1 when the ledger freeze flag is set, 0 otherwise.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		ledgerOperationDuration,
		burnedUnits,
		escrowTransitions,
		auditRuns,
		auditVariance,
		ledgerFrozen,
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOperation records the outcome and duration of one ledger mutation.
func RecordOperation(op, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	ledgerOperations.WithLabelValues(op, outcome).Inc()
	ledgerOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordBurn records units destroyed under a category.
func RecordBurn(category string, burned int64) {
	if category == "" {
		category = "unknown"
	}
	burnedUnits.WithLabelValues(category).Add(float64(burned))
}

// RecordEscrowTransition records one lifecycle transition.
func RecordEscrowTransition(to string) {
	escrowTransitions.WithLabelValues(to).Inc()
}

// RecordAudit records a reconciliation pass and its observed variance.
func RecordAudit(health string, variance int64) {
	auditRuns.WithLabelValues(health).Inc()
	auditVariance.Set(float64(variance))
}

// SetFrozen mirrors the freeze flag for alerting.
func SetFrozen(frozen bool) {
	if frozen {
		ledgerFrozen.Set(1)
	} else {
		ledgerFrozen.Set(0)
	}
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "wallets" && parts[0] != "escrows" && parts[0] != "fairness" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	if len(parts) == 2 {
		return "/" + parts[0] + "/:id"
	}
	return "/" + parts[0] + "/:id/" + parts[2]
}
