// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	StreamMessages    *prometheus.CounterVec
	StreamDropped     prometheus.Counter
	StreamParseErrors prometheus.Counter
	StreamReconnects  prometheus.Counter
	StreamState       prometheus.Gauge

	// Control layer metrics
	RateLimitDecisions *prometheus.CounterVec
	LockAttempts       *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec

	// Upstream metrics
	UpstreamCalls   *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec

	// Scoring metrics
	AIJudgments *prometheus.CounterVec
	FinalScores prometheus.Histogram

	// Batch metrics
	BatchFlushes    prometheus.Counter
	BatchSize       prometheus.Histogram
	EntityOutcomes  *prometheus.CounterVec
	BatchQueueDepth prometheus.Gauge

	// Scanner metrics
	ScanRuns           *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	SignalsPublished   prometheus.Gauge
	LastSuccessfulScan prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_signal_lab"
	}

	return &Metrics{
		// Stream metrics
		StreamMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Inbound stream messages by normalized kind",
		}, []string{"kind"}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Raw events dropped because the consumer buffer was full",
		}),
		StreamParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "parse_errors_total",
			Help:      "Inbound messages that were not valid JSON",
		}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts",
		}),
		StreamState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected",
		}),

		// Control layer metrics
		RateLimitDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "rate_limit_decisions_total",
			Help:      "Limiter decisions by key and outcome",
		}, []string{"key", "decision"}),
		LockAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "lock_attempts_total",
			Help:      "Lock acquisitions by result",
		}, []string{"result"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}),

		// Upstream metrics
		UpstreamCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "External calls by source and status",
		}, []string{"source", "status"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "External call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),

		// Scoring metrics
		AIJudgments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "ai_judgments_total",
			Help:      "AI judgment outcomes",
		}, []string{"outcome"}),
		FinalScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "final_score",
			Help:      "Distribution of final blended scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),

		// Batch metrics
		BatchFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Batch flush cycles",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "events_per_flush",
			Help:      "Events drained per flush",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		EntityOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "entity_outcomes_total",
			Help:      "Per-entity processing outcomes",
		}, []string{"outcome"}),
		BatchQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "queue_depth",
			Help:      "Events waiting for the next flush",
		}),

		// Scanner metrics
		ScanRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "runs_total",
			Help:      "Scanner cycles by status",
		}, []string{"status"}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "run_duration_seconds",
			Help:      "Scanner cycle duration",
			Buckets:   prometheus.DefBuckets,
		}),
		SignalsPublished: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "signals_published",
			Help:      "Signals in the current generation",
		}),
		LastSuccessfulScan: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_success_timestamp",
			Help:      "Unix timestamp of the last published generation",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordStreamMessage counts one normalized inbound message.
func RecordStreamMessage(kind string) {
	DefaultMetrics.StreamMessages.WithLabelValues(kind).Inc()
}

// RecordStreamDrop counts a raw event dropped on a full buffer.
func RecordStreamDrop() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordStreamParseError counts a malformed inbound message.
func RecordStreamParseError() {
	DefaultMetrics.StreamParseErrors.Inc()
}

// RecordReconnectAttempt counts a reconnection attempt.
func RecordReconnectAttempt() {
	DefaultMetrics.StreamReconnects.Inc()
}

// SetStreamState publishes the connection state.
func SetStreamState(state string) {
	var v float64
	switch state {
	case "connecting":
		v = 1
	case "connected":
		v = 2
	}
	DefaultMetrics.StreamState.Set(v)
}

// RecordRateLimitDecision counts a limiter decision.
func RecordRateLimitDecision(key string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	DefaultMetrics.RateLimitDecisions.WithLabelValues(key, decision).Inc()
}

// RecordLockAttempt counts a lock acquisition result.
func RecordLockAttempt(result string) {
	DefaultMetrics.LockAttempts.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a cache lookup result.
func RecordCacheLookup(result string) {
	DefaultMetrics.CacheLookups.WithLabelValues(result).Inc()
}

// RecordUpstreamCall records an external call.
func RecordUpstreamCall(source, status string, d time.Duration) {
	DefaultMetrics.UpstreamCalls.WithLabelValues(source, status).Inc()
	DefaultMetrics.UpstreamLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordAIJudgment counts an AI judgment outcome.
func RecordAIJudgment(outcome string) {
	DefaultMetrics.AIJudgments.WithLabelValues(outcome).Inc()
}

// ObserveFinalScore records a final score.
func ObserveFinalScore(score float64) {
	DefaultMetrics.FinalScores.Observe(score)
}

// RecordBatchFlush records one flush cycle.
func RecordBatchFlush(events int) {
	DefaultMetrics.BatchFlushes.Inc()
	DefaultMetrics.BatchSize.Observe(float64(events))
}

// RecordEntityOutcome counts a per-entity processing outcome.
func RecordEntityOutcome(outcome string) {
	DefaultMetrics.EntityOutcomes.WithLabelValues(outcome).Inc()
}

// SetBatchQueueDepth publishes the pending event count.
func SetBatchQueueDepth(n int) {
	DefaultMetrics.BatchQueueDepth.Set(float64(n))
}

// RecordScanRun records a scanner cycle.
func RecordScanRun(status string, d time.Duration) {
	DefaultMetrics.ScanRuns.WithLabelValues(status).Inc()
	DefaultMetrics.ScanDuration.Observe(d.Seconds())
}

// RecordGenerationPublished updates the published generation gauges.
func RecordGenerationPublished(signals int, at time.Time) {
	DefaultMetrics.SignalsPublished.Set(float64(signals))
	DefaultMetrics.LastSuccessfulScan.Set(float64(at.Unix()))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
