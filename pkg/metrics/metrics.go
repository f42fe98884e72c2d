package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger metrics
	LedgerTotalSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stint_ledger_total_seconds",
			Help: "Current accumulated usage per entity in the open epoch",
		},
		[]string{"entity"},
	)

	FactsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stint_facts_applied_total",
			Help: "Total number of increment facts applied to the ledger",
		},
	)

	ApplyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stint_apply_latency_seconds",
			Help:    "Time taken to apply one fact to the ledger in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FactsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stint_facts_pending",
			Help: "Unconsumed facts in the shared store per entity",
		},
		[]string{"entity"},
	)

	EpochRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stint_epoch_rollovers_total",
			Help: "Total number of epoch resets",
		},
	)

	// Drop and anomaly counters, mirroring the crash-safe store counters
	Drops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stint_drops_total",
			Help: "Dropped, rebased, or flagged deliveries by counter class",
		},
		[]string{"class"},
	)

	// Entity metrics
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stint_entities_total",
			Help: "Total number of entities by lifecycle state",
		},
		[]string{"state"},
	)

	// Plan metrics
	PlansSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stint_plans_submitted_total",
			Help: "Total number of threshold plans submitted to the platform",
		},
	)

	PlansRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stint_plans_rejected_total",
			Help: "Total number of threshold plans the platform rejected",
		},
	)

	ReplansDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stint_replans_deferred_total",
			Help: "Replans postponed by the per-entity rate limit",
		},
	)

	// Health metrics
	LivenessAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stint_liveness_age_seconds",
			Help: "Age of the observer's last liveness marker",
		},
	)

	GapsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stint_gaps_detected_total",
			Help: "Detected accounting gaps by suspected cause",
		},
		[]string{"cause"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stint_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stint_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(LedgerTotalSeconds)
	prometheus.MustRegister(FactsApplied)
	prometheus.MustRegister(ApplyLatency)
	prometheus.MustRegister(FactsPending)
	prometheus.MustRegister(EpochRollovers)
	prometheus.MustRegister(Drops)
	prometheus.MustRegister(EntitiesTotal)
	prometheus.MustRegister(PlansSubmitted)
	prometheus.MustRegister(PlansRejected)
	prometheus.MustRegister(ReplansDeferred)
	prometheus.MustRegister(LivenessAge)
	prometheus.MustRegister(GapsDetected)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
