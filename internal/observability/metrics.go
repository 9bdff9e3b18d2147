// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scheduler metrics
	TicksTotal        prometheus.Counter
	SessionsProcessed prometheus.Counter
	SessionsSkipped   *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	ActiveSessions    prometheus.Gauge

	// Oracle metrics
	PriceFetchTotal   *prometheus.CounterVec
	PriceFetchMisses  prometheus.Counter
	PriceFetchLatency prometheus.Histogram

	// Execution metrics
	IntentsDispatched *prometheus.CounterVec
	SwapFailures      *prometheus.CounterVec
	EmergencyTriggers prometheus.Counter
	OpenPositions     prometheus.Gauge

	// Reconciliation metrics
	ReconcileRunsTotal *prometheus.CounterVec
	PhantomsDetected   prometheus.Counter
	PhantomsCleaned    prometheus.Counter
	ReconcileDuration  prometheus.Histogram

	// Health metrics
	LastSuccessfulTick      prometheus.Gauge
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bump_monitor"
	}

	return &Metrics{
		// Scheduler metrics
		TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks executed",
		}),
		SessionsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sessions_processed_total",
			Help:      "Total number of session ticks processed",
		}),
		SessionsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sessions_skipped_total",
			Help:      "Total number of session ticks skipped by reason",
		}, []string{"reason"}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Full scheduler tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_sessions",
			Help:      "Number of active sessions seen on the last tick",
		}),

		// Oracle metrics
		PriceFetchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_fetch_total",
			Help:      "Total number of resolved prices by source",
		}, []string{"source"}),
		PriceFetchMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_fetch_misses_total",
			Help:      "Total number of ticks skipped because no provider had a price",
		}),
		PriceFetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "price_fetch_latency_seconds",
			Help:      "Price resolution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Execution metrics
		IntentsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "intents_dispatched_total",
			Help:      "Total number of dispatched intents by type and outcome",
		}, []string{"type", "outcome"}),
		SwapFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "swap_failures_total",
			Help:      "Total number of failed swaps by side",
		}, []string{"side"}),
		EmergencyTriggers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "emergency_triggers_total",
			Help:      "Total number of emergency floor liquidations",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "open_positions",
			Help:      "Number of active positions across all sessions",
		}),

		// Reconciliation metrics
		ReconcileRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by mode",
		}, []string{"mode"}),
		PhantomsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "phantoms_detected_total",
			Help:      "Total number of phantom positions detected",
		}),
		PhantomsCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "phantoms_cleaned_total",
			Help:      "Total number of phantom positions transitioned to sold",
		}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconciliation run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of last successful scheduler tick",
		}),
		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconciliation run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPriceFetch records a resolved price by source.
func RecordPriceFetch(source string, seconds float64) {
	DefaultMetrics.PriceFetchTotal.WithLabelValues(source).Inc()
	DefaultMetrics.PriceFetchLatency.Observe(seconds)
}

// RecordPriceMiss increments the skipped-tick counter.
func RecordPriceMiss() {
	DefaultMetrics.PriceFetchMisses.Inc()
}

// RecordIntent records a dispatched intent outcome.
func RecordIntent(intentType, outcome string) {
	DefaultMetrics.IntentsDispatched.WithLabelValues(intentType, outcome).Inc()
}

// RecordSwapFailure increments the failed swap counter for a side.
func RecordSwapFailure(side string) {
	DefaultMetrics.SwapFailures.WithLabelValues(side).Inc()
}

// RecordEmergencyTrigger increments the emergency liquidation counter.
func RecordEmergencyTrigger() {
	DefaultMetrics.EmergencyTriggers.Inc()
}

// RecordReconcileRun records a reconciliation run.
func RecordReconcileRun(mode string, phantoms, cleaned int, seconds float64) {
	DefaultMetrics.ReconcileRunsTotal.WithLabelValues(mode).Inc()
	DefaultMetrics.PhantomsDetected.Add(float64(phantoms))
	DefaultMetrics.PhantomsCleaned.Add(float64(cleaned))
	DefaultMetrics.ReconcileDuration.Observe(seconds)
}
