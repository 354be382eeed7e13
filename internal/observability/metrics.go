package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for DexLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreActionsApplied  *prometheus.CounterVec
	CoreActionsRejected *prometheus.CounterVec
	CoreActionDuration  *prometheus.HistogramVec
	CoreJournals        *prometheus.CounterVec
	CoreMessages        *prometheus.CounterVec
	CoreStateHashDur    prometheus.Histogram
	CoreSequence        prometheus.Gauge
	CoreBlockHeight     prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter
	OutboxPending       prometheus.Gauge

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupCacheSize        prometheus.Gauge
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter
	StaleActions          *prometheus.CounterVec

	// --- Staking ---
	AccrualPasses    *prometheus.CounterVec
	RewardsAccrued   prometheus.Counter
	AccrualResidual  prometheus.Gauge
	RewardsPaid      prometheus.Counter
	StakersActive    prometheus.Gauge
	TotalStaked      prometheus.Gauge
	PrincipalUnstake prometheus.Counter

	// --- Swaps & Fees ---
	SwapsSettled      *prometheus.CounterVec
	ProtocolFeesTaken *prometheus.CounterVec
	LPFeesTaken       *prometheus.CounterVec

	// --- Handshake ---
	HandshakesBegun     prometheus.Counter
	HandshakesCompleted prometheus.Counter
	HandshakesRejected  *prometheus.CounterVec

	// --- Persistence ---
	PersistActionsWritten  prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Call it once per process; registration is global.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_core_actions_applied_total",
			Help: "Actions successfully applied by core",
		}, []string{"action_type"}),

		CoreActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_core_actions_rejected_total",
			Help: "Actions rejected (duplicate, stale, error kind)",
		}, []string{"action_type", "reason"}),

		CoreActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_core_action_apply_duration_seconds",
			Help:    "Time to apply a single action in core",
			Buckets: latencyBuckets,
		}, []string{"action_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_core_outbound_messages_total",
			Help: "Outbound messages emitted",
		}, []string{"kind"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_core_sequence",
			Help: "Current engine sequence number",
		}),

		CoreBlockHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_core_block_height",
			Help: "Block height of the last applied action",
		}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"action_type"}),

		ApplyToPersist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_publish_drops_total",
			Help: "Messages dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		OutboxPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_outbox_pending",
			Help: "Applied actions whose outbound messages are not yet confirmed",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_idempotency_duplicates_total",
			Help: "Duplicates caught (cache/store)",
		}, []string{"action_type", "tier"}),

		DedupCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_dedup_cache_size",
			Help: "Current dedup cache occupancy",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_dedup_tier2_duration_seconds",
			Help:    "Durable dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		DedupTier2Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_dedup_tier2_errors_total",
			Help: "Durable dedup lookup failures",
		}),

		StaleActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_stale_actions_total",
			Help: "Actions rejected for a block clock behind the engine",
		}, []string{"field"}),

		// Staking
		AccrualPasses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_accrual_passes_total",
			Help: "Reward accrual passes run",
		}, []string{"formula", "outcome"}),

		RewardsAccrued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_rewards_accrued_total",
			Help: "Reward units credited to claim records",
		}),

		AccrualResidual: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_accrual_residual",
			Help: "Reward units lost to truncation in the last pass",
		}),

		RewardsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_rewards_paid_total",
			Help: "Reward units paid out by claim and unstake",
		}),

		StakersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_stakers_active",
			Help: "Members of the staker set",
		}),

		TotalStaked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_total_staked",
			Help: "Sum of all staking positions",
		}),

		PrincipalUnstake: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_principal_unstaked_total",
			Help: "LP token units returned by unstake",
		}),

		// Swaps & Fees
		SwapsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_swaps_settled_total",
			Help: "Swaps settled",
		}, []string{"pool", "direction"}),

		ProtocolFeesTaken: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_protocol_fees_total",
			Help: "Protocol fee units collected",
		}, []string{"token"}),

		LPFeesTaken: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_lp_fees_total",
			Help: "LP fee units retained by pools",
		}, []string{"token"}),

		// Handshake
		HandshakesBegun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_handshakes_begun_total",
			Help: "Pair creations that issued a callback secret",
		}),

		HandshakesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_handshakes_completed_total",
			Help: "Callbacks accepted",
		}),

		HandshakesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_handshakes_rejected_total",
			Help: "Callbacks or begins refused",
		}, []string{"reason"}),

		// Persistence
		PersistActionsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_actions_written_total",
			Help: "Action receipts written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dex_persist_batch_size",
			Help:    "Receipts per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dex_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dex_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_query_errors_total",
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
