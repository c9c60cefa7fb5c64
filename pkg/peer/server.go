package peer

import (
	"context"
	"fmt"

	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// shardFor resolves the single shard a ShardServer call targets, per
// collection and shard id — the server-side counterpart of a Remote's
// client calls.
func (p *Peer) shardFor(collectionName string, shardID types.ShardID) (shard.Shard, error) {
	c, err := p.collection(collectionName)
	if err != nil {
		return nil, err
	}
	shards, err := c.Holder().TargetShards(&shardID)
	if err != nil {
		return nil, err
	}
	if len(shards) != 1 {
		return nil, werr.NewNotFound(fmt.Sprintf("shard %d", shardID))
	}
	return shards[0], nil
}

func (p *Peer) Update(ctx context.Context, collectionName string, shardID types.ShardID, op types.PointOperation, wait bool) (uint64, error) {
	s, err := p.shardFor(collectionName, shardID)
	if err != nil {
		return 0, err
	}
	return s.Update(ctx, op, wait)
}

func (p *Peer) Search(ctx context.Context, collectionName string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	s, err := p.shardFor(collectionName, shardID)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, batch)
}

func (p *Peer) ScrollBy(ctx context.Context, collectionName string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error) {
	s, err := p.shardFor(collectionName, shardID)
	if err != nil {
		return types.ScrollResult{}, err
	}
	return s.ScrollBy(ctx, req)
}

func (p *Peer) Count(ctx context.Context, collectionName string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error) {
	s, err := p.shardFor(collectionName, shardID)
	if err != nil {
		return types.CountResult{}, err
	}
	return s.Count(ctx, req)
}

func (p *Peer) Retrieve(ctx context.Context, collectionName string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	s, err := p.shardFor(collectionName, shardID)
	if err != nil {
		return nil, err
	}
	return s.Retrieve(ctx, ids, withPayload, withVector)
}

func (p *Peer) Info(ctx context.Context, collectionName string, shardID types.ShardID) (transport.ShardInfo, error) {
	s, err := p.shardFor(collectionName, shardID)
	if err != nil {
		return transport.ShardInfo{}, err
	}
	info, err := s.Info(ctx)
	if err != nil {
		return transport.ShardInfo{}, err
	}
	return transport.ShardInfo{Status: info.Status, PointsCount: info.PointsCount, SegmentsCount: info.SegmentsCount}, nil
}

// StreamPoints lands points, one upsert per point, in shardID's temporary
// shard, which must already be registered on the holder; it does not create
// one and fails with NotFound when none is registered.
func (p *Peer) StreamPoints(ctx context.Context, collectionName string, shardID types.ShardID, points []types.Point) error {
	c, err := p.collection(collectionName)
	if err != nil {
		return err
	}
	temp, ok := c.Holder().TemporaryShard(shardID)
	if !ok {
		return werr.NewNotFound(fmt.Sprintf("temporary shard %d", shardID))
	}
	for _, pt := range points {
		op := types.PointOperation{Kind: types.OpUpsert, Points: []types.Point{pt}}
		if _, err := temp.Update(ctx, op, true); err != nil {
			return err
		}
	}
	return nil
}

// HandleRaftMessage feeds an inbound raft message from another peer into
// this peer's raft node.
func (p *Peer) HandleRaftMessage(ctx context.Context, from uint64, data []byte) error {
	var msg raftpb.Message
	if err := msg.Unmarshal(data); err != nil {
		return fmt.Errorf("unmarshal raft message from %d: %w", from, err)
	}
	return p.node.Step(ctx, msg)
}
