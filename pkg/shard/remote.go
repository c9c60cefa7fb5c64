package shard

import (
	"context"

	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// Remote is an opaque forwarder pointing at {peer_id, shard_id} on another
// peer. Every method marshals the call and forwards it over the transport
// client; failure to reach the peer is wrapped as a transient
// werr.ServiceError. Only the replica set is expected to translate that
// into "report this peer as failing".
type Remote struct {
	PeerID     types.PeerID
	ShardID    types.ShardID
	Collection string
	client     transport.ShardClient
}

// NewRemote wraps client as the {peer_id, shard_id} shard stub.
func NewRemote(collection string, peerID types.PeerID, shardID types.ShardID, client transport.ShardClient) *Remote {
	return &Remote{Collection: collection, PeerID: peerID, ShardID: shardID, client: client}
}

func (r *Remote) Kind() Kind { return KindRemote }

func (r *Remote) Update(ctx context.Context, op types.PointOperation, wait bool) (uint64, error) {
	opNum, err := r.client.Update(ctx, r.Collection, r.ShardID, op, wait)
	if err != nil {
		return 0, r.wrap(err)
	}
	return opNum, nil
}

func (r *Remote) Search(ctx context.Context, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	results, err := r.client.Search(ctx, r.Collection, r.ShardID, batch)
	if err != nil {
		return nil, r.wrap(err)
	}
	return results, nil
}

func (r *Remote) ScrollBy(ctx context.Context, req types.ScrollRequest) (types.ScrollResult, error) {
	res, err := r.client.ScrollBy(ctx, r.Collection, r.ShardID, req)
	if err != nil {
		return types.ScrollResult{}, r.wrap(err)
	}
	return res, nil
}

func (r *Remote) Count(ctx context.Context, req types.CountRequest) (types.CountResult, error) {
	res, err := r.client.Count(ctx, r.Collection, r.ShardID, req)
	if err != nil {
		return types.CountResult{}, r.wrap(err)
	}
	return res, nil
}

func (r *Remote) Retrieve(ctx context.Context, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	res, err := r.client.Retrieve(ctx, r.Collection, r.ShardID, ids, withPayload, withVector)
	if err != nil {
		return nil, r.wrap(err)
	}
	return res, nil
}

func (r *Remote) Info(ctx context.Context) (Info, error) {
	info, err := r.client.Info(ctx, r.Collection, r.ShardID)
	if err != nil {
		return Info{}, r.wrap(err)
	}
	return Info{Status: info.Status, PointsCount: info.PointsCount, SegmentsCount: info.SegmentsCount}, nil
}

func (r *Remote) CreateSnapshot(ctx context.Context, dir string) error {
	return werr.NewServiceError("remote shard cannot snapshot locally; snapshot must be taken on %d", r.PeerID)
}

// StreamPoints pushes points to this remote's temporary shard during an
// outbound transfer.
func (r *Remote) StreamPoints(ctx context.Context, points []types.Point) error {
	if err := r.client.StreamPoints(ctx, r.Collection, r.ShardID, points); err != nil {
		return r.wrap(err)
	}
	return nil
}

func (r *Remote) wrap(err error) error {
	return werr.NewServiceError("peer %d unreachable for shard %d: %v", r.PeerID, r.ShardID, err)
}

var _ Shard = (*Remote)(nil)
