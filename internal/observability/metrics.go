package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for HedgeVault.
type Metrics struct {
	// --- Settlement ---
	EpochsSettled       prometheus.Counter
	SettleDuration      prometheus.Histogram
	CurrentEpoch        prometheus.Gauge
	AccountRollups      prometheus.Counter
	DelayedSharesMinted prometheus.Counter

	// --- Vault operations ---
	Deposits         prometheus.Counter
	DepositVolume    prometheus.Counter
	Redemptions      prometheus.Counter
	RedemptionShares prometheus.Counter
	Claims           prometheus.Counter
	ClaimVolume      prometheus.Counter
	ClaimsSocialized prometheus.Counter
	OpsRejected      *prometheus.CounterVec

	// --- Valuation ---
	TotalAssets    prometheus.Gauge
	TotalShares    prometheus.Gauge
	TotalUnclaimed prometheus.Gauge

	// --- Rebalancer ---
	RebalanceRuns      prometheus.Counter
	RebalanceDuration  prometheus.Histogram
	RebalanceLegOK     *prometheus.CounterVec
	RebalanceLegFailed *prometheus.CounterVec
	RebalanceLegCapped *prometheus.CounterVec

	// --- Checkpoint persistence ---
	CheckpointsWritten prometheus.Counter
	CheckpointWriteDur prometheus.Histogram
	CheckpointErrors   *prometheus.CounterVec
	PublishDrops       prometheus.Counter
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	writeBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		EpochsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_epochs_settled_total",
			Help: "Epoch boundaries finalized by the settlement controller",
		}),
		SettleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_settle_duration_seconds",
			Help:    "Time to run one settlement pass",
			Buckets: latencyBuckets,
		}),
		CurrentEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_current_epoch",
			Help: "Latest finalized epoch",
		}),
		AccountRollups: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_account_rollups_total",
			Help: "Per-account delayed-mint rollups performed",
		}),
		DelayedSharesMinted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_delayed_shares_minted_total",
			Help: "Shares minted at epoch finalization (quote scale units)",
		}),

		Deposits: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_total",
			Help: "Accepted deposits",
		}),
		DepositVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposit_volume_total",
			Help: "Deposited collateral (quote scale units)",
		}),
		Redemptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_redemptions_total",
			Help: "Accepted redemptions",
		}),
		RedemptionShares: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_redemption_shares_total",
			Help: "Shares burned by redemptions (quote scale units)",
		}),
		Claims: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_claims_total",
			Help: "Claim payouts",
		}),
		ClaimVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_claim_volume_total",
			Help: "Collateral paid out by claims (quote scale units)",
		}),
		ClaimsSocialized: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_claims_socialized_total",
			Help: "Claims paid at a pro-rated (insolvency) amount",
		}),
		OpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Operations rejected before any state mutation",
		}, []string{"op", "reason"}),

		TotalAssets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_assets",
			Help: "Net assets at the latest valuation (quote scale units)",
		}),
		TotalShares: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_shares",
			Help: "Settled share supply (quote scale units)",
		}),
		TotalUnclaimed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_unclaimed",
			Help: "Outstanding unclaimed assets (quote scale units)",
		}),

		RebalanceRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_rebalance_runs_total",
			Help: "Rebalance passes executed",
		}),
		RebalanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_rebalance_duration_seconds",
			Help:    "Time to run one full rebalance (both passes)",
			Buckets: latencyBuckets,
		}),
		RebalanceLegOK: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rebalance_leg_success_total",
			Help: "Successful per-leg rebalance adjustments",
		}, []string{"market", "side", "action"}),
		RebalanceLegFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rebalance_leg_failed_total",
			Help: "Per-leg rebalance adjustments that failed and were skipped",
		}, []string{"market", "side", "action"}),
		RebalanceLegCapped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rebalance_leg_capped_total",
			Help: "Per-leg adjustments reduced by maker capacity or taker interest",
		}, []string{"market", "side", "action"}),

		CheckpointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_checkpoints_written_total",
			Help: "Epoch checkpoints persisted",
		}),
		CheckpointWriteDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_checkpoint_write_duration_seconds",
			Help:    "Time to persist one epoch checkpoint",
			Buckets: writeBuckets,
		}),
		CheckpointErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_checkpoint_errors_total",
			Help: "Checkpoint persistence errors by stage",
		}, []string{"stage"}),
		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),
	}
}
