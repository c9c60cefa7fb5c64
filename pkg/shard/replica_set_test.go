package shard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
)

// fakeShardClient is a minimal transport.ShardClient for replica set tests;
// it never dials a real connection.
type fakeShardClient struct {
	unreachable bool
	opNum       uint64
}

func (f *fakeShardClient) Update(ctx context.Context, collection string, shardID types.ShardID, op types.PointOperation, wait bool) (uint64, error) {
	if f.unreachable {
		return 0, errors.New("connection refused")
	}
	f.opNum++
	return f.opNum, nil
}
func (f *fakeShardClient) Search(ctx context.Context, collection string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	if f.unreachable {
		return nil, errors.New("connection refused")
	}
	return make([][]types.ScoredPoint, len(batch.Requests)), nil
}
func (f *fakeShardClient) ScrollBy(ctx context.Context, collection string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error) {
	return types.ScrollResult{}, nil
}
func (f *fakeShardClient) Count(ctx context.Context, collection string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error) {
	return types.CountResult{}, nil
}
func (f *fakeShardClient) Retrieve(ctx context.Context, collection string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	return nil, nil
}
func (f *fakeShardClient) Info(ctx context.Context, collection string, shardID types.ShardID) (transport.ShardInfo, error) {
	return transport.ShardInfo{}, nil
}
func (f *fakeShardClient) StreamPoints(ctx context.Context, collection string, shardID types.ShardID, points []types.Point) error {
	return nil
}
func (f *fakeShardClient) Close() error { return nil }

func newTestReplicaSet(t *testing.T, onFailure FailureFunc) (*ReplicaSet, *Local) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "shard")
	local, err := NewLocal(dataDir, types.OptimizerConfig{})
	require.NoError(t, err)

	rs := NewReplicaSet(0, dataDir, filepath.Join(t.TempDir(), "replica_state"), onFailure)
	rs.SetLocal(1, local)
	return rs, local
}

func TestReplicaSetWriteFanoutFailsWithNoActiveReplica(t *testing.T) {
	rs, _ := newTestReplicaSet(t, nil)
	_, err := rs.Update(context.Background(), types.PointOperation{Kind: types.OpUpsert}, false)
	require.Error(t, err)
}

func TestReplicaSetApplyStateRejectsUnknownPeer(t *testing.T) {
	rs, _ := newTestReplicaSet(t, nil)
	err := rs.ApplyState(map[types.PeerID]bool{1: true, 99: true})
	require.Error(t, err)
}

func TestReplicaSetApplyStateRemovesDroppedLocal(t *testing.T) {
	rs, _ := newTestReplicaSet(t, nil)
	require.NoError(t, rs.ApplyState(map[types.PeerID]bool{1: true}))

	// Target without peer 1 drops the local replica.
	require.NoError(t, rs.ApplyState(map[types.PeerID]bool{}))

	rs.mu.RLock()
	hasLocal := rs.hasLocal
	rs.mu.RUnlock()
	assert.False(t, hasLocal)
}

// TestReplicaSetRemoveReplicaDeletesLocalFromDisk covers the local-replica
// removal path directly: the shard directory must be gone afterward, not
// merely the in-memory/state-file bookkeeping.
func TestReplicaSetRemoveReplicaDeletesLocalFromDisk(t *testing.T) {
	rs, local := newTestReplicaSet(t, nil)
	require.NoError(t, rs.SetActive(1, true))

	require.NoError(t, rs.RemoveReplica(1))

	rs.mu.RLock()
	hasLocal := rs.hasLocal
	rs.mu.RUnlock()
	assert.False(t, hasLocal)

	_, err := os.Stat(rs.dataDir)
	assert.True(t, os.IsNotExist(err))

	// BeforeDrop is idempotent; calling it again must not panic.
	local.BeforeDrop()
}

func TestReplicaSetSetActiveThenWriteSucceeds(t *testing.T) {
	rs, _ := newTestReplicaSet(t, nil)
	require.NoError(t, rs.SetActive(1, true))

	opNum, err := rs.Update(context.Background(), types.PointOperation{
		Kind:   types.OpUpsert,
		Points: []types.Point{{ID: 1, Vectors: map[string]types.Vector{"": {1, 2}}}},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), opNum)
}

func TestReplicaSetAddInactiveReplicaStateRejectsDuplicate(t *testing.T) {
	rs, _ := newTestReplicaSet(t, nil)
	require.NoError(t, rs.AddInactiveReplicaState(2))
	err := rs.AddInactiveReplicaState(2)
	require.Error(t, err)
}

func TestReplicaSetRemoveReplicaFailsIfAbsent(t *testing.T) {
	rs, _ := newTestReplicaSet(t, nil)
	err := rs.RemoveReplica(77)
	require.Error(t, err)
}

// TestReplicaSetWriteReportsUnreachableRemote mirrors scenario S4: a
// 3-replica shard where one remote is unreachable. The write still reaches
// the local and the reachable remote, and the failure callback fires with
// the offending peer.
func TestReplicaSetWriteReportsUnreachableRemote(t *testing.T) {
	var failedPeer types.PeerID
	var failedCalls int
	rs, local := newTestReplicaSet(t, func(peer types.PeerID) {
		failedCalls++
		failedPeer = peer
	})

	goodClient := &fakeShardClient{}
	badClient := &fakeShardClient{unreachable: true}
	rs.AddRemote(2, NewRemote("col", 2, 0, badClient))
	rs.AddRemote(3, NewRemote("col", 3, 0, goodClient))

	require.NoError(t, rs.SetActive(1, true))
	require.NoError(t, rs.SetActive(2, true))
	require.NoError(t, rs.SetActive(3, true))

	_, err := rs.Update(context.Background(), types.PointOperation{
		Kind:   types.OpUpsert,
		Points: []types.Point{{ID: 1, Vectors: map[string]types.Vector{"": {1, 2}}}},
	}, true)

	require.Error(t, err)
	assert.Equal(t, 1, failedCalls)
	assert.EqualValues(t, 2, failedPeer)

	count, _ := local.Count(context.Background(), types.CountRequest{})
	assert.EqualValues(t, 1, count.Count)
}
