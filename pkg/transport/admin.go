package transport

import (
	"context"

	"github.com/cuemby/vectorshard/pkg/types"
)

// CollectionSummary is the wire shape of one catalogued collection, used by
// AdminClient.ListCollections and the CLI's collection list/get commands.
type CollectionSummary struct {
	Name   string
	Config types.CollectionConfig
}

// ClusterStatus reports one peer's view of the consensus group, used by the
// CLI's cluster status command.
type ClusterStatus struct {
	Leader       bool
	CommitIndex  uint64
	AppliedIndex uint64
	VoterCount   int
}

// AdminClient is the client-side view of a peer's administrative RPC
// endpoint: cluster/collection metadata changes that must go through
// consensus, as opposed to ShardClient's per-shard data-plane calls.
type AdminClient interface {
	CreateCollection(ctx context.Context, name string, cfg types.CollectionConfig) error
	DropCollection(ctx context.Context, name string) error
	UpdateOptimizerConfig(ctx context.Context, name string, cfg types.OptimizerConfig) error
	ListCollections(ctx context.Context) ([]CollectionSummary, error)
	AddPeer(ctx context.Context, id types.PeerID, addr string) error
	RemovePeer(ctx context.Context, id types.PeerID) error
	ListPeers(ctx context.Context) (map[types.PeerID]string, error)
	ClusterStatus(ctx context.Context) (ClusterStatus, error)
	Close() error
}

// AdminServer is the server-side counterpart a peer implements.
// CreateCollection, DropCollection and UpdateOptimizerConfig propose a
// ConsensusOperation and wait for it to apply; AddPeer and RemovePeer
// propose a raft configuration change; ListCollections, ListPeers and
// ClusterStatus answer from the peer's local state.
type AdminServer interface {
	CreateCollection(ctx context.Context, name string, cfg types.CollectionConfig) error
	DropCollection(ctx context.Context, name string) error
	UpdateOptimizerConfig(ctx context.Context, name string, cfg types.OptimizerConfig) error
	ListCollections(ctx context.Context) ([]CollectionSummary, error)
	AddPeer(ctx context.Context, id types.PeerID, addr string) error
	RemovePeer(ctx context.Context, id types.PeerID) error
	ListPeers(ctx context.Context) (map[types.PeerID]string, error)
	ClusterStatus(ctx context.Context) (ClusterStatus, error)
}
