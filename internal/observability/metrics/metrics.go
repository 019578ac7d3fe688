package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "twin_rules_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	batchTotal   *prometheus.CounterVec
	batchLatency *prometheus.HistogramVec

	samplesTotal *prometheus.CounterVec

	evaluationsTotal *prometheus.CounterVec

	bindTotal *prometheus.CounterVec

	activeActors prometheus.Gauge

	insightEventsTotal *prometheus.CounterVec

	consumerLag *prometheus.GaugeVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers engine metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		batchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batches_total",
				Help: "Total processed sample batches by result",
			},
			[]string{"result"},
		)
		batchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_latency_seconds",
				Help:    "Batch processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		samplesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_total",
				Help: "Samples seen by actors by outcome",
			},
			[]string{"outcome"},
		)
		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_total",
				Help: "Timestamps evaluated or skipped by unchanged inputs",
			},
			[]string{"outcome"},
		)
		bindTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bind_total",
				Help: "Rule instance binds by status",
			},
			[]string{"status"},
		)
		activeActors = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_actors",
				Help: "Actors held by the engine",
			},
		)
		insightEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "insight_events_total",
				Help: "Total insight lifecycle events by type",
			},
			[]string{"event"},
		)
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_lag_seconds",
				Help: "Telemetry consumer lag in seconds",
			},
			[]string{"consumer"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total simulation report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Simulation report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			batchTotal,
			batchLatency,
			samplesTotal,
			evaluationsTotal,
			bindTotal,
			activeActors,
			insightEventsTotal,
			consumerLag,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveBatch records batch duration and result.
func ObserveBatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if batchTotal != nil {
		batchTotal.WithLabelValues(result).Inc()
	}
	if batchLatency != nil {
		batchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddSamples counts samples by outcome: accepted, duplicate or rejected.
func AddSamples(outcome string, count int) {
	if count <= 0 {
		return
	}
	if samplesTotal != nil {
		samplesTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

// AddEvaluations counts evaluated or skipped timestamps.
func AddEvaluations(outcome string, count int) {
	if count <= 0 {
		return
	}
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

// IncBind counts a bind by instance status.
func IncBind(status string) {
	if status == "" {
		status = "unknown"
	}
	if bindTotal != nil {
		bindTotal.WithLabelValues(status).Inc()
	}
}

// SetActiveActors sets the actor gauge.
func SetActiveActors(count int) {
	if activeActors != nil {
		activeActors.Set(float64(count))
	}
}

// IncInsightEvent increments insight lifecycle counters.
func IncInsightEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if insightEventsTotal != nil {
		insightEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveExport records report export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	SamplesAccepted  = "accepted"
	SamplesDuplicate = "duplicate"
	SamplesRejected  = "rejected"

	EvaluationsRun     = "evaluated"
	EvaluationsSkipped = "skipped"
)
