package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the ingestion and review subsystems.
type Metrics struct {
	IngestedTotal      *prometheus.CounterVec
	IngestBatchesTotal *prometheus.CounterVec
	IngestBatchSize    prometheus.Histogram
	QueueDepth         prometheus.Gauge
	StoreWriteDuration prometheus.Histogram
	StoreWriteFailures prometheus.Counter
	ClaimsTotal        *prometheus.CounterVec
	ReviewActionsTotal *prometheus.CounterVec
	ClaimsExpiredTotal prometheus.Counter
	ActiveClaims       prometheus.Gauge
}

// NewMetrics registers and returns domain metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperstream_alerts_ingested_total",
			Help: "Per-item ingestion outcomes.",
		}, []string{"outcome"}),
		IngestBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperstream_ingest_batches_total",
			Help: "Ingest batch outcomes.",
		}, []string{"outcome"}),
		IngestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperstream_ingest_batch_size",
			Help:    "Alerts per ingest batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. ~16384
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperstream_pending_writes",
			Help: "Alerts admitted but not yet persisted.",
		}),
		StoreWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperstream_store_write_duration_seconds",
			Help:    "Duration of individual alert writes.",
			Buckets: prometheus.DefBuckets,
		}),
		StoreWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperstream_store_write_failures_total",
			Help: "Alert writes that failed after admission.",
		}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperstream_claims_total",
			Help: "Claim attempts by outcome.",
		}, []string{"outcome"}),
		ReviewActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperstream_review_actions_total",
			Help: "Review state transitions by action.",
		}, []string{"action"}),
		ClaimsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperstream_claims_expired_total",
			Help: "Claims that lapsed without being resolved.",
		}),
		ActiveClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperstream_active_claims",
			Help: "Currently held review claims.",
		}),
	}

	reg.MustRegister(
		m.IngestedTotal,
		m.IngestBatchesTotal,
		m.IngestBatchSize,
		m.QueueDepth,
		m.StoreWriteDuration,
		m.StoreWriteFailures,
		m.ClaimsTotal,
		m.ReviewActionsTotal,
		m.ClaimsExpiredTotal,
		m.ActiveClaims,
	)

	return m
}
