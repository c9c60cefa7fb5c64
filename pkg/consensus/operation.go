package consensus

import "github.com/cuemby/vectorshard/pkg/types"

// OperationKind discriminates the normal-entry payloads proposed through
// consensus: every topology-changing call that must be agreed on
// cluster-wide (not just applied locally) goes through one of these,
// mirroring warren's Manager.Apply json command dispatch.
type OperationKind string

const (
	OpCreateCollection OperationKind = "create_collection"
	OpDropCollection   OperationKind = "drop_collection"
	OpUpdateOptimizer  OperationKind = "update_optimizer"
	OpStartTransfer    OperationKind = "start_transfer"
	OpFinishTransfer   OperationKind = "finish_transfer"
	OpAbortTransfer    OperationKind = "abort_transfer"
	OpSetReplicaState  OperationKind = "set_replica_state"
	OpAddReplica       OperationKind = "add_replica"
	OpRemoveReplica    OperationKind = "remove_replica"
)

// ConsensusOperation is the JSON tagged union carried in every raft normal
// entry's Data field. ID correlates a proposal with the waiter
// ProposeWithWait blocks on; it is set automatically if empty.
type ConsensusOperation struct {
	ID         string        `json:"id"`
	Kind       OperationKind `json:"kind"`
	Collection string        `json:"collection,omitempty"`

	CollectionConfig *types.CollectionConfig `json:"collection_config,omitempty"`
	OptimizerConfig  *types.OptimizerConfig  `json:"optimizer_config,omitempty"`
	ShardTransfer    *types.ShardTransfer    `json:"shard_transfer,omitempty"`
	ShardID          *types.ShardID          `json:"shard_id,omitempty"`
	PeerID           *types.PeerID           `json:"peer_id,omitempty"`
	Active           *bool                   `json:"active,omitempty"`
}

// Applier is implemented by the peer catalogue: it mutates collection and
// shard-holder state in response to a committed operation. Apply must be
// idempotent-safe with respect to the underlying holder/transfer calls,
// which already tolerate replays (RegisterStartShardTransfer,
// RegisterFinishTransfer).
type Applier interface {
	Apply(op ConsensusOperation) error
}
