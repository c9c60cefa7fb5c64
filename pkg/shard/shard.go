// Package shard implements the five shard variants as a discriminated
// union: Local, Remote, ForwardProxy, Proxy and ReplicaSet all satisfy the
// same Shard interface, and call sites that need variant-specific behavior
// type-switch on Kind() so that adding a variant forces every routing
// decision to be reviewed.
package shard

import (
	"context"

	"github.com/cuemby/vectorshard/pkg/types"
)

// Kind discriminates the shard variants.
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
	KindForwardProxy
	KindProxy
	KindReplicaSet
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindForwardProxy:
		return "forward_proxy"
	case KindProxy:
		return "proxy"
	case KindReplicaSet:
		return "replica_set"
	default:
		return "unknown"
	}
}

// Info is the aggregate status/size info a shard reports.
type Info struct {
	Status        types.CollectionStatus
	PointsCount   uint64
	SegmentsCount uint64
}

// Shard is the common read/write surface every variant implements.
type Shard interface {
	Update(ctx context.Context, op types.PointOperation, wait bool) (opNum uint64, err error)
	Search(ctx context.Context, batch types.SearchBatch) ([][]types.ScoredPoint, error)
	ScrollBy(ctx context.Context, req types.ScrollRequest) (types.ScrollResult, error)
	Count(ctx context.Context, req types.CountRequest) (types.CountResult, error)
	Retrieve(ctx context.Context, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error)
	Info(ctx context.Context) (Info, error)
	CreateSnapshot(ctx context.Context, dir string) error
	Kind() Kind
}

// Droppable is implemented by shards that must be explicitly quiesced
// before being discarded (Local's WAL flush and optimizer shutdown). A
// ForwardProxy does not implement it; its inner Local's BeforeDrop is
// called directly on final drop, never on proxify/unproxify.
type Droppable interface {
	BeforeDrop()
}
