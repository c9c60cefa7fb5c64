package holder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/types"
)

func newLocalShard(t *testing.T) *shard.Local {
	t.Helper()
	l, err := shard.NewLocal(t.TempDir(), types.OptimizerConfig{})
	require.NoError(t, err)
	return l
}

func TestTargetShardsReturnsSelectedShard(t *testing.T) {
	h := New(4)
	local := newLocalShard(t)
	h.SetShard(2, local)

	sel := types.ShardID(2)
	shards, err := h.TargetShards(&sel)
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Same(t, local, shards[0])
}

func TestTargetShardsMissingSelectionErrors(t *testing.T) {
	h := New(4)
	sel := types.ShardID(9)
	_, err := h.TargetShards(&sel)
	require.Error(t, err)
}

func TestTargetShardsNilSelectionReturnsAll(t *testing.T) {
	h := New(4)
	h.SetShard(0, newLocalShard(t))
	h.SetShard(1, newLocalShard(t))
	h.SetShard(2, newLocalShard(t))

	shards, err := h.TargetShards(nil)
	require.NoError(t, err)
	assert.Len(t, shards, 3)
}

func TestTargetShardsForPeerApplyIncludesTemporary(t *testing.T) {
	h := New(4)
	canonical := newLocalShard(t)
	temp := newLocalShard(t)
	h.SetShard(1, canonical)
	h.AddTemporaryShard(1, temp)

	shards, err := h.TargetShardsForPeerApply(1)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	assert.Same(t, canonical, shards[0])
	assert.Same(t, temp, shards[1])
}

func TestSplitByShardUsesRing(t *testing.T) {
	h := New(4)
	ids := []types.PointID{1, 2, 3, 4, 5, 6, 7, 8}
	byShard := h.SplitByShard(ids)

	total := 0
	for shardID, shardIDs := range byShard {
		total += len(shardIDs)
		for _, id := range shardIDs {
			assert.Equal(t, shardID, h.Ring().ShardFor(id))
		}
	}
	assert.Equal(t, len(ids), total)
}

func TestRegisterStartShardTransferRejectsConflict(t *testing.T) {
	h := New(4)
	t1 := types.ShardTransfer{ShardID: 1, From: 10, To: 20}
	inserted, err := h.RegisterStartShardTransfer(t1)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Identical record: idempotent no-op, not an error.
	inserted, err = h.RegisterStartShardTransfer(t1)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Conflicting record for the same shard: rejected.
	t2 := types.ShardTransfer{ShardID: 1, From: 10, To: 30}
	_, err = h.RegisterStartShardTransfer(t2)
	require.Error(t, err)
}

func TestRegisterFinishTransferIsIdempotent(t *testing.T) {
	h := New(4)
	tr := types.ShardTransfer{ShardID: 1, From: 10, To: 20}
	_, err := h.RegisterStartShardTransfer(tr)
	require.NoError(t, err)

	assert.True(t, h.RegisterFinishTransfer(tr))
	// Second finish of the same (already-gone) transfer reports false, not
	// an error, per invariant 3's idempotent-finish requirement.
	assert.False(t, h.RegisterFinishTransfer(tr))
}

func TestTemporaryShardAddRemove(t *testing.T) {
	h := New(4)
	temp := newLocalShard(t)
	h.AddTemporaryShard(3, temp)

	got, ok := h.TemporaryShard(3)
	require.True(t, ok)
	assert.Same(t, temp, got)

	removed, ok := h.RemoveTemporaryShard(3)
	require.True(t, ok)
	assert.Same(t, temp, removed)

	_, ok = h.TemporaryShard(3)
	assert.False(t, ok)
}

func TestSetShardReplicaStateRequiresReplicaSet(t *testing.T) {
	h := New(4)
	h.SetShard(0, newLocalShard(t))

	err := h.SetShardReplicaState(0, 1, true)
	require.Error(t, err)

	rs := shard.NewReplicaSet(0, filepath.Join(t.TempDir(), "shard"), filepath.Join(t.TempDir(), "replica_state"), nil)
	rs.SetLocal(1, newLocalShard(t))
	h.ReplaceShard(0, rs)

	require.NoError(t, h.SetShardReplicaState(0, 1, true))

	_, err = rs.Update(context.Background(), types.PointOperation{
		Kind:   types.OpUpsert,
		Points: []types.Point{{ID: 1, Vectors: map[string]types.Vector{"": {1, 2}}}},
	}, true)
	require.NoError(t, err)
}

func TestDrainAllCallsBeforeDropOnDroppableShards(t *testing.T) {
	h := New(2)
	local := newLocalShard(t)
	h.SetShard(0, local)
	h.AddTemporaryShard(1, newLocalShard(t))

	// Must not panic and must be safe to call twice (BeforeDrop is
	// idempotent on *Local via its CompareAndSwap guard).
	h.DrainAll()
	h.DrainAll()
}
