// Package transport defines the peer-to-peer shard RPC surface. A Remote
// shard forwards every call through a ShardClient; a peer's gRPC server
// implements ShardServer and dispatches incoming calls to its local shard
// holder. Transport itself (TLS, retries, connection pooling) is out of
// scope here — this package only defines the interface boundary and a
// gRPC-backed client using a JSON wire codec in place of protoc-generated
// stubs.
package transport

import (
	"context"

	"github.com/cuemby/vectorshard/pkg/types"
)

// ShardClient is the client-side view of a peer's shard RPC endpoint; a
// Remote shard forwards every Shard call through one of these.
type ShardClient interface {
	Update(ctx context.Context, collection string, shardID types.ShardID, op types.PointOperation, wait bool) (opNum uint64, err error)
	Search(ctx context.Context, collection string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error)
	ScrollBy(ctx context.Context, collection string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error)
	Count(ctx context.Context, collection string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error)
	Retrieve(ctx context.Context, collection string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error)
	Info(ctx context.Context, collection string, shardID types.ShardID) (ShardInfo, error)
	// StreamPoints is used by the transfer coordinator to push a shard's
	// contents to a destination peer's temporary shard during an outbound
	// transfer.
	StreamPoints(ctx context.Context, collection string, shardID types.ShardID, points []types.Point) error
	// StreamRaftMessage delivers one marshaled raft message to this peer's
	// consensus node; from is the sending peer's id.
	StreamRaftMessage(ctx context.Context, from uint64, data []byte) error
	Close() error
}

// ShardServer is the server-side counterpart dispatched to by the gRPC
// service; a peer implements this over its shard holder per collection.
type ShardServer interface {
	Update(ctx context.Context, collection string, shardID types.ShardID, op types.PointOperation, wait bool) (uint64, error)
	Search(ctx context.Context, collection string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error)
	ScrollBy(ctx context.Context, collection string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error)
	Count(ctx context.Context, collection string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error)
	Retrieve(ctx context.Context, collection string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error)
	Info(ctx context.Context, collection string, shardID types.ShardID) (ShardInfo, error)
	StreamPoints(ctx context.Context, collection string, shardID types.ShardID, points []types.Point) error
	HandleRaftMessage(ctx context.Context, from uint64, data []byte) error
}

// ShardInfo is the wire shape of Shard.Info(), kept separate from
// pkg/shard.Info so this package never imports pkg/shard (Remote lives in
// pkg/shard and imports transport, not the other way around).
type ShardInfo struct {
	Status        types.CollectionStatus
	PointsCount   uint64
	SegmentsCount uint64
}
