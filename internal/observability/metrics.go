package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CollateralLedger.
type Metrics struct {
	// --- Core Processing ---
	CallsApplied  *prometheus.CounterVec
	CallsRejected *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	Journals      *prometheus.CounterVec
	StateHashDur  prometheus.Histogram
	Sequence      prometheus.Gauge

	// --- Solvency & Transfers ---
	SolvencyDecisions *prometheus.CounterVec
	TransfersEmitted  *prometheus.CounterVec

	// --- Oracle ---
	OracleFetchDuration  prometheus.Histogram
	OracleSourceFailures *prometheus.CounterVec
	FeedUpdates          *prometheus.CounterVec

	// --- Latency ---
	IngestToApply *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistEventsWritten    prometheus.Counter
	PersistJournalsWritten  prometheus.Counter
	PersistTransfersWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistBatchDur         prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		// Core Processing
		CallsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_core_calls_applied_total",
			Help: "Calls successfully applied by core",
		}, []string{"call_type"}),

		CallsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_core_calls_rejected_total",
			Help: "Calls rejected and rolled back",
		}, []string{"call_type", "reason"}),

		CallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collateral_core_call_duration_seconds",
			Help:    "Time to process a single call, oracle queries included",
			Buckets: latencyBuckets,
		}, []string{"call_type"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_core_journals_total",
			Help: "Balance movements recorded",
		}, []string{"journal_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "collateral_core_state_hash_duration_seconds",
			Help:    "Time to compute the chained state hash",
			Buckets: latencyBuckets,
		}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "collateral_core_sequence",
			Help: "Sequence of the last applied call",
		}),

		// Solvency & Transfers
		SolvencyDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_solvency_decisions_total",
			Help: "Solvency evaluations by operation and outcome",
		}, []string{"operation", "outcome"}),

		TransfersEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_transfers_emitted_total",
			Help: "Deferred transfer instructions emitted",
		}, []string{"kind"}),

		// Oracle
		OracleFetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "collateral_oracle_fetch_duration_seconds",
			Help:    "Time to resolve one price",
			Buckets: latencyBuckets,
		}),

		OracleSourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_oracle_source_failures_total",
			Help: "Price sources skipped because they failed",
		}, []string{"source_kind"}),

		FeedUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_feed_updates_total",
			Help: "Rate and pool observations received",
		}, []string{"feed"}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collateral_ingest_to_apply_seconds",
			Help:    "Transport receive to core apply complete",
			Buckets: latencyBuckets,
		}, []string{"call_type"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collateral_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collateral_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collateral_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "collateral_publish_drops_total",
			Help: "Envelopes dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "collateral_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_idempotency_duplicates_total",
			Help: "Duplicate calls caught (lru/postgres)",
		}, []string{"call_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "collateral_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "collateral_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "collateral_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "collateral_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistTransfersWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "collateral_persist_transfers_written_total",
			Help: "Transfer instructions written to the outbox",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "collateral_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "collateral_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "collateral_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "collateral_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collateral_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collateral_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
