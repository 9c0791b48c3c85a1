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
	// Market state metrics
	PoolUpserts         prometheus.Counter
	StaleUpdates        prometheus.Counter
	DegradedPools       prometheus.Gauge
	SnapshotPools       prometheus.Gauge
	ChangeEventsDropped prometheus.Counter
	AdapterFetches      *prometheus.CounterVec
	AdapterFetchLatency *prometheus.HistogramVec

	// Event monitor metrics
	RawEvents       *prometheus.CounterVec
	PressureSignals prometheus.Gauge
	WSReconnects    *prometheus.CounterVec

	// Detection and scoring metrics
	DetectionDuration     prometheus.Histogram
	OpportunitiesDetected prometheus.Counter
	OpportunitiesScored   *prometheus.CounterVec

	// Execution metrics
	AttemptsTerminal  *prometheus.CounterVec
	AttemptsInFlight  prometheus.Gauge
	AttemptDuration   prometheus.Histogram
	SubmitRetries     prometheus.Counter
	Deferred          *prometheus.CounterVec
	Reconciliations   *prometheus.CounterVec
	RealizedPnLUSD    prometheus.Gauge
	BreakerTripped    prometheus.Gauge
	BreakerTripsTotal *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Scheduler metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers metrics on reg instead of the default registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_arb"
	}
	f := promauto.With(reg)

	return &Metrics{
		// Market state metrics
		PoolUpserts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "pool_upserts_total",
			Help:      "Total number of accepted pool state upserts",
		}),
		StaleUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "stale_updates_total",
			Help:      "Total number of upserts rejected as not newer than stored state",
		}),
		DegradedPools: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "degraded_pools",
			Help:      "Number of pools currently excluded as degraded",
		}),
		SnapshotPools: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "snapshot_pools",
			Help:      "Number of pools in the last detection snapshot",
		}),
		ChangeEventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "change_events_dropped_total",
			Help:      "Total number of change events dropped because no consumer kept up",
		}),
		AdapterFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "adapter_fetches_total",
			Help:      "Total number of adapter fetches by source and status",
		}, []string{"source", "status"}),
		AdapterFetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "adapter_fetch_latency_seconds",
			Help:      "Adapter fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		// Event monitor metrics
		RawEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "raw_events_total",
			Help:      "Total number of raw events by outcome",
		}, []string{"result"}),
		PressureSignals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pressure_signals",
			Help:      "Number of live pressure signals",
		}),
		WSReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "Total number of websocket reconnect attempts by status",
		}, []string{"status"}),

		// Detection and scoring metrics
		DetectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "detection_duration_seconds",
			Help:      "Cycle detection duration in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
		OpportunitiesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "opportunities_detected_total",
			Help:      "Total number of profitable cycles detected",
		}),
		OpportunitiesScored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "opportunities_scored_total",
			Help:      "Total number of scored opportunities by status and reason",
		}, []string{"status", "reason"}),

		// Execution metrics
		AttemptsTerminal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Total number of execution attempts by terminal state",
		}, []string{"state"}),
		AttemptsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_in_flight",
			Help:      "Number of attempts holding resources",
		}),
		AttemptDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempt_duration_seconds",
			Help:      "Time from detection to terminal state in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SubmitRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "submit_retries_total",
			Help:      "Total number of transaction submission retries",
		}),
		Deferred: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "deferred_total",
			Help:      "Total number of opportunities deferred by reason",
		}, []string{"reason"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "reconciliations_total",
			Help:      "Total number of reconciled expired attempts by outcome",
		}, []string{"outcome"}),
		RealizedPnLUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "realized_pnl_usd",
			Help:      "Cumulative realized profit and loss in USD",
		}),
		BreakerTripped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "breaker_tripped",
			Help:      "1 while the circuit breaker blocks approvals",
		}),
		BreakerTripsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "breaker_trips_total",
			Help:      "Total number of circuit breaker trips by reason",
		}, []string{"reason"}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Scheduler metrics
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks by status",
		}, []string{"status"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of last successful tick",
		}),
		UptimeSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordPoolUpsert counts an accepted upsert.
func RecordPoolUpsert() {
	DefaultMetrics.PoolUpserts.Inc()
}

// RecordStaleUpdate counts a rejected out-of-order upsert.
func RecordStaleUpdate() {
	DefaultMetrics.StaleUpdates.Inc()
}

// SetDegradedPools updates the degraded pool gauge.
func SetDegradedPools(n int) {
	DefaultMetrics.DegradedPools.Set(float64(n))
}

// SetSnapshotPools updates the snapshot size gauge.
func SetSnapshotPools(n int) {
	DefaultMetrics.SnapshotPools.Set(float64(n))
}

// RecordChangeEventDropped counts a change event nobody received.
func RecordChangeEventDropped() {
	DefaultMetrics.ChangeEventsDropped.Inc()
}

// RecordAdapterFetch records one adapter fetch.
func RecordAdapterFetch(source string, d time.Duration, err error) {
	DefaultMetrics.AdapterFetches.WithLabelValues(source, status(err)).Inc()
	DefaultMetrics.AdapterFetchLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordRawEvent counts a raw event by outcome: qualified, ignored or decode_error.
func RecordRawEvent(result string) {
	DefaultMetrics.RawEvents.WithLabelValues(result).Inc()
}

// SetPressureSignals updates the live signal gauge.
func SetPressureSignals(n int) {
	DefaultMetrics.PressureSignals.Set(float64(n))
}

// RecordWSReconnect records a websocket reconnect attempt.
func RecordWSReconnect(err error) {
	DefaultMetrics.WSReconnects.WithLabelValues(status(err)).Inc()
}

// RecordDetection records a detection pass.
func RecordDetection(d time.Duration, found int) {
	DefaultMetrics.DetectionDuration.Observe(d.Seconds())
	DefaultMetrics.OpportunitiesDetected.Add(float64(found))
}

// RecordScore records a scoring decision.
func RecordScore(status, reason string) {
	DefaultMetrics.OpportunitiesScored.WithLabelValues(status, reason).Inc()
}

// RecordAttemptTerminal records an attempt reaching a terminal state.
func RecordAttemptTerminal(state string, d time.Duration) {
	DefaultMetrics.AttemptsTerminal.WithLabelValues(state).Inc()
	DefaultMetrics.AttemptDuration.Observe(d.Seconds())
}

// SetInFlight updates the in-flight attempt gauge.
func SetInFlight(n int) {
	DefaultMetrics.AttemptsInFlight.Set(float64(n))
}

// RecordSubmitRetry counts a submission retry.
func RecordSubmitRetry() {
	DefaultMetrics.SubmitRetries.Inc()
}

// RecordDeferred counts a deferred opportunity.
func RecordDeferred(reason string) {
	DefaultMetrics.Deferred.WithLabelValues(reason).Inc()
}

// RecordReconciliation counts a reconciliation outcome.
func RecordReconciliation(outcome string) {
	DefaultMetrics.Reconciliations.WithLabelValues(outcome).Inc()
}

// AddRealizedPnL adds realized profit or loss in USD.
func AddRealizedPnL(usd float64) {
	DefaultMetrics.RealizedPnLUSD.Add(usd)
}

// SetBreakerTripped updates the breaker state gauge.
func SetBreakerTripped(tripped bool) {
	if tripped {
		DefaultMetrics.BreakerTripped.Set(1)
		return
	}
	DefaultMetrics.BreakerTripped.Set(0)
}

// RecordBreakerTrip counts a breaker trip.
func RecordBreakerTrip(reason string) {
	DefaultMetrics.BreakerTripsTotal.WithLabelValues(reason).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordTick records one scheduler tick.
func RecordTick(d time.Duration, err error) {
	DefaultMetrics.TicksTotal.WithLabelValues(status(err)).Inc()
	DefaultMetrics.TickDuration.Observe(d.Seconds())
	if err == nil {
		DefaultMetrics.LastSuccessfulTick.SetToCurrentTime()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// AddUptime advances the process uptime counter.
func AddUptime(d time.Duration) {
	DefaultMetrics.UptimeSeconds.Add(d.Seconds())
}
