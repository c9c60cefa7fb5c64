package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/holder"
	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
)

// loopbackClient routes every call straight into a holder, simulating the
// server side of the wire without any real transport. StreamPoints always
// lands in the target shard's temporary slot, creating one if none is
// registered; pkg/peer's StreamPoints handler instead fails when no
// temporary shard is registered.
type loopbackClient struct {
	h       *holder.ShardHolder
	tempDir func() string
}

func (c *loopbackClient) Update(ctx context.Context, collection string, shardID types.ShardID, op types.PointOperation, wait bool) (uint64, error) {
	shards, err := c.h.TargetShards(&shardID)
	if err != nil {
		return 0, err
	}
	return shards[0].Update(ctx, op, wait)
}

func (c *loopbackClient) Search(ctx context.Context, collection string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	return nil, errors.New("not used in this test")
}

func (c *loopbackClient) ScrollBy(ctx context.Context, collection string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error) {
	return types.ScrollResult{}, errors.New("not used in this test")
}

func (c *loopbackClient) Count(ctx context.Context, collection string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error) {
	shards, err := c.h.TargetShards(&shardID)
	if err != nil {
		return types.CountResult{}, err
	}
	return shards[0].Count(ctx, req)
}

func (c *loopbackClient) Retrieve(ctx context.Context, collection string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	return nil, errors.New("not used in this test")
}

func (c *loopbackClient) Info(ctx context.Context, collection string, shardID types.ShardID) (transport.ShardInfo, error) {
	return transport.ShardInfo{}, errors.New("not used in this test")
}

func (c *loopbackClient) StreamPoints(ctx context.Context, collection string, shardID types.ShardID, points []types.Point) error {
	temp, ok := c.h.TemporaryShard(shardID)
	if !ok {
		local, err := shard.NewLocal(c.tempDir(), types.OptimizerConfig{})
		if err != nil {
			return err
		}
		c.h.AddTemporaryShard(shardID, local)
		temp = local
	}
	_, err := temp.Update(ctx, types.PointOperation{Kind: types.OpUpsert, Points: points}, true)
	return err
}

func (c *loopbackClient) Close() error { return nil }

const (
	peerA types.PeerID = 1
	peerB types.PeerID = 2
)

// TestTransferFinishPromotesBothSides mirrors scenario S3: two peers,
// shard_count=1, A holds Local, B holds a Remote pointer at A. Starting a
// sync=false transfer from A to B, running it to completion, and finishing
// on both sides leaves A with a Remote->B and B with a promoted Local;
// Finish returns true once then false on each side.
func TestTransferFinishPromotesBothSides(t *testing.T) {
	ctx := context.Background()

	holderA := holder.New(1)
	localA, err := shard.NewLocal(t.TempDir(), types.OptimizerConfig{})
	require.NoError(t, err)
	holderA.SetShard(0, localA)
	_, err = localA.Update(ctx, types.PointOperation{
		Kind:   types.OpUpsert,
		Points: []types.Point{{ID: 1, Vectors: map[string]types.Vector{"": {1, 2}}}},
	}, true)
	require.NoError(t, err)

	holderB := holder.New(1)
	clientToA := &loopbackClient{h: holderA, tempDir: t.TempDir}
	holderB.SetShard(0, shard.NewRemote("col", peerA, 0, clientToA))

	clientToB := &loopbackClient{h: holderB, tempDir: t.TempDir}
	dialFromA := func(peer types.PeerID) (transport.ShardClient, error) {
		if peer == peerB {
			return clientToB, nil
		}
		return nil, errors.New("unknown peer")
	}
	dialFromB := func(peer types.PeerID) (transport.ShardClient, error) {
		if peer == peerA {
			return clientToA, nil
		}
		return nil, errors.New("unknown peer")
	}

	coordA := NewCoordinator("col", t.TempDir(), peerA, holderA, dialFromA, 2, nil, nil)
	coordB := NewCoordinator("col", t.TempDir(), peerB, holderB, dialFromB, 2, nil, nil)

	transferRecord := types.ShardTransfer{ShardID: 0, From: peerA, To: peerB, Sync: false}

	drivingA, err := coordA.Start(ctx, transferRecord)
	require.NoError(t, err)
	assert.True(t, drivingA, "A holds the plain Local, A must drive")

	drivingB, err := coordB.Start(ctx, transferRecord)
	require.NoError(t, err)
	assert.False(t, drivingB, "B holds a Remote, B must not drive")

	status, ok := coordA.Wait(transferRecord.Key())
	require.True(t, ok)
	require.Equal(t, StatusFinished, status)

	changedA, err := coordA.Finish(transferRecord)
	require.NoError(t, err)
	assert.True(t, changedA)

	shardOnA, ok := holderA.Shard(0)
	require.True(t, ok)
	remoteOnA, ok := shardOnA.(*shard.Remote)
	require.True(t, ok, "A's shard must have been promoted to a Remote")
	assert.Equal(t, peerB, remoteOnA.PeerID)

	changedAAgain, err := coordA.Finish(transferRecord)
	require.NoError(t, err)
	assert.False(t, changedAAgain)

	changedB, err := coordB.Finish(transferRecord)
	require.NoError(t, err)
	assert.True(t, changedB)

	shardOnB, ok := holderB.Shard(0)
	require.True(t, ok)
	localOnB, ok := shardOnB.(*shard.Local)
	require.True(t, ok, "B's temporary shard must have been promoted to Local")
	count, err := localOnB.Count(ctx, types.CountRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count.Count)

	changedBAgain, err := coordB.Finish(transferRecord)
	require.NoError(t, err)
	assert.False(t, changedBAgain)
}

func TestTransferAbortRevertsForwardProxy(t *testing.T) {
	ctx := context.Background()
	h := holder.New(1)
	local, err := shard.NewLocal(t.TempDir(), types.OptimizerConfig{})
	require.NoError(t, err)
	h.SetShard(0, local)

	blocking := make(chan struct{})
	client := &blockingClient{release: blocking, started: make(chan struct{})}
	dial := func(peer types.PeerID) (transport.ShardClient, error) { return client, nil }

	coord := NewCoordinator("col", t.TempDir(), peerA, h, dial, 2, nil, nil)
	tr := types.ShardTransfer{ShardID: 0, From: peerA, To: peerB, Sync: false}

	driving, err := coord.Start(ctx, tr)
	require.NoError(t, err)
	require.True(t, driving)

	// The task proxifies the source and begins streaming before blocking on
	// StreamPoints; wait for that signal so Abort races the in-flight copy
	// deterministically instead of on a timer.
	<-client.started

	s, ok := h.Shard(0)
	require.True(t, ok)
	require.Equal(t, shard.KindForwardProxy, s.Kind(), "source must be proxified while the copy is in flight")

	changed := coord.Abort(tr)
	assert.True(t, changed)

	s, ok = h.Shard(0)
	require.True(t, ok)
	assert.Equal(t, shard.KindLocal, s.Kind())

	close(blocking)
	status, ok := coord.Status(tr.Key())
	assert.False(t, ok, "aborted task must no longer be registered")
	_ = status
}

// blockingClient's StreamPoints signals started then blocks until release
// is closed, or returns early if the context is canceled — used to exercise
// Abort mid-flight.
type blockingClient struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingClient) Update(ctx context.Context, collection string, shardID types.ShardID, op types.PointOperation, wait bool) (uint64, error) {
	return 0, errors.New("not used")
}
func (b *blockingClient) Search(ctx context.Context, collection string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	return nil, errors.New("not used")
}
func (b *blockingClient) ScrollBy(ctx context.Context, collection string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error) {
	return types.ScrollResult{}, errors.New("not used")
}
func (b *blockingClient) Count(ctx context.Context, collection string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error) {
	return types.CountResult{}, errors.New("not used")
}
func (b *blockingClient) Retrieve(ctx context.Context, collection string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	return nil, errors.New("not used")
}
func (b *blockingClient) Info(ctx context.Context, collection string, shardID types.ShardID) (transport.ShardInfo, error) {
	return transport.ShardInfo{}, errors.New("not used")
}
func (b *blockingClient) StreamPoints(ctx context.Context, collection string, shardID types.ShardID, points []types.Point) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (b *blockingClient) Close() error { return nil }
