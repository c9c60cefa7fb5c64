/*
Package metrics defines and registers the Prometheus metrics exposed by a
vectorshard peer, plus a small Timer helper and a Collector that samples
collection/shard/replica counts and consensus state on a 15s tick.

# Metrics

Cluster:

  - vectorshard_peers_total{role,status}
  - vectorshard_collections_total
  - vectorshard_shards_total{collection,kind}
  - vectorshard_replicas_total{collection,state}
  - vectorshard_points_total{collection,shard_id}

Consensus:

  - vectorshard_consensus_is_leader
  - vectorshard_consensus_peers_total
  - vectorshard_consensus_commit_index
  - vectorshard_consensus_applied_index
  - vectorshard_consensus_propose_duration_seconds
  - vectorshard_consensus_apply_duration_seconds

Request path:

  - vectorshard_search_latency_seconds{collection}
  - vectorshard_update_latency_seconds{collection}
  - vectorshard_shard_failures_total{collection,shard_id}

Shard transfer:

  - vectorshard_transfers_total{method,outcome}
  - vectorshard_transfer_duration_seconds{method}
  - vectorshard_transfers_in_flight

Optimizer:

  - vectorshard_optimizer_cycles_total
  - vectorshard_optimizer_duration_seconds

# Usage

	import "github.com/cuemby/vectorshard/pkg/metrics"

	timer := metrics.NewTimer()
	err := collection.UpsertFromClient(ctx, op, wait)
	timer.ObserveDurationVec(metrics.UpdateLatency, collectionName)

The HTTP handler is exposed alongside health endpoints on the peer's
metrics listener via metrics.Handler().
*/
package metrics
