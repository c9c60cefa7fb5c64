package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vectorshard_peers_total",
			Help: "Total number of peers by role and status",
		},
		[]string{"role", "status"},
	)

	CollectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectorshard_collections_total",
			Help: "Total number of collections",
		},
	)

	ShardsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vectorshard_shards_total",
			Help: "Total number of shards by kind (local, remote, proxy, forward_proxy, replica_set)",
		},
		[]string{"collection", "kind"},
	)

	ReplicasTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vectorshard_replicas_total",
			Help: "Total number of replicas by state (active, dead, partial, initializing, listener)",
		},
		[]string{"collection", "state"},
	)

	PointsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vectorshard_points_total",
			Help: "Total number of points held per collection shard",
		},
		[]string{"collection", "shard_id"},
	)

	// Consensus metrics
	ConsensusLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectorshard_consensus_is_leader",
			Help: "Whether this peer is the consensus leader (1 = leader, 0 = follower)",
		},
	)

	ConsensusPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectorshard_consensus_peers_total",
			Help: "Total number of voting peers in the consensus group",
		},
	)

	ConsensusCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectorshard_consensus_commit_index",
			Help: "Current consensus log commit index",
		},
	)

	ConsensusAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectorshard_consensus_applied_index",
			Help: "Last applied consensus log index",
		},
	)

	ConsensusProposeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vectorshard_consensus_propose_duration_seconds",
			Help:    "Time from proposing an operation to it being applied",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsensusApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vectorshard_consensus_apply_duration_seconds",
			Help:    "Time taken to apply a committed consensus entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectorshard_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectorshard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Search/update operation metrics
	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectorshard_search_latency_seconds",
			Help:    "Time taken to serve a search request in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	UpdateLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectorshard_update_latency_seconds",
			Help:    "Time taken to fan out and apply an update across replicas in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	ShardFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectorshard_shard_failures_total",
			Help: "Total number of shard operation failures by collection and shard id",
		},
		[]string{"collection", "shard_id"},
	)

	// Shard transfer metrics
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectorshard_transfers_total",
			Help: "Total number of shard transfers by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectorshard_transfer_duration_seconds",
			Help:    "Shard transfer duration in seconds by method",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"method"},
	)

	TransfersInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vectorshard_transfers_in_flight",
			Help: "Number of shard transfers currently running",
		},
	)

	// Optimizer / segment metrics
	OptimizerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vectorshard_optimizer_cycles_total",
			Help: "Total number of segment optimizer cycles completed",
		},
	)

	OptimizerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vectorshard_optimizer_duration_seconds",
			Help:    "Time taken for a segment optimizer cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(CollectionsTotal)
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(ReplicasTotal)
	prometheus.MustRegister(PointsTotal)
	prometheus.MustRegister(ConsensusLeader)
	prometheus.MustRegister(ConsensusPeers)
	prometheus.MustRegister(ConsensusCommitIndex)
	prometheus.MustRegister(ConsensusAppliedIndex)
	prometheus.MustRegister(ConsensusProposeDuration)
	prometheus.MustRegister(ConsensusApplyDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SearchLatency)
	prometheus.MustRegister(UpdateLatency)
	prometheus.MustRegister(ShardFailuresTotal)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(TransferDuration)
	prometheus.MustRegister(TransfersInFlight)
	prometheus.MustRegister(OptimizerCyclesTotal)
	prometheus.MustRegister(OptimizerDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
