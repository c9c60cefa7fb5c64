package collection

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

func newTestCollection(t *testing.T, shardNumber uint32) *Collection {
	t.Helper()
	root := t.TempDir()
	cfg := types.CollectionConfig{
		Name:        "test",
		ShardNumber: shardNumber,
		Vectors:     map[string]types.VectorParams{"": {Size: 2, Distance: types.DistanceEuclid}},
	}
	c, err := Create(root, "test", cfg, Options{SelfID: 1, MaxTransferWorkers: 2})
	require.NoError(t, err)
	t.Cleanup(func() {
		c.BeforeDrop()
		c.AssertDropped()
	})
	return c
}

func upsertPoints(t *testing.T, c *Collection, n int) {
	t.Helper()
	points := make([]types.Point, n)
	for i := 0; i < n; i++ {
		id := types.PointID(i + 1)
		points[i] = types.Point{
			ID:      id,
			Vectors: map[string]types.Vector{"": {float32(i), float32(i + 1)}},
			Payload: map[string]any{"i": i},
		}
	}
	err := c.UpsertFromClient(context.Background(), types.PointOperation{Kind: types.OpUpsert, Points: points}, true)
	require.NoError(t, err)
}

func TestCreateAndOpenRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := types.CollectionConfig{Name: "round", ShardNumber: 2}
	c, err := Create(root, "round", cfg, Options{SelfID: 1})
	require.NoError(t, err)

	err = c.UpsertFromClient(context.Background(), types.PointOperation{
		Kind:   types.OpUpsert,
		Points: []types.Point{{ID: 7, Vectors: map[string]types.Vector{"": {1, 2}}}},
	}, true)
	require.NoError(t, err)
	c.BeforeDrop()
	c.AssertDropped()

	reopened, err := Open(root, "round", Options{SelfID: 1})
	require.NoError(t, err)
	t.Cleanup(func() { reopened.BeforeDrop() })

	result, err := reopened.Count(context.Background(), types.CountRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Count)
}

func TestOpenWithoutConfigFails(t *testing.T) {
	_, err := Open(t.TempDir(), "missing", Options{SelfID: 1})
	assert.Error(t, err)
}

func TestUpsertFromClientRoutesAndCounts(t *testing.T) {
	c := newTestCollection(t, 4)
	upsertPoints(t, c, 20)

	result, err := c.Count(context.Background(), types.CountRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 20, result.Count)
}

func TestUpsertFromClientPartialFailureIsInconsistentShardFailure(t *testing.T) {
	c := newTestCollection(t, 2)
	c.Holder().ReplaceShard(1, &failingShard{})

	points := make([]types.Point, 0, 200)
	for i := 0; i < 200; i++ {
		points = append(points, types.Point{ID: types.PointID(i + 1), Vectors: map[string]types.Vector{"": {1}}})
	}
	err := c.UpsertFromClient(context.Background(), types.PointOperation{Kind: types.OpUpsert, Points: points}, true)
	require.Error(t, err)
	var inconsistent *werr.InconsistentShardFailure
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, 2, inconsistent.Total)
	assert.Equal(t, 1, inconsistent.Failed)
}

func TestUpsertFromPeerAppliesToCanonicalAndTemporary(t *testing.T) {
	c := newTestCollection(t, 1)
	temp, err := shard.NewLocal(t.TempDir(), types.OptimizerConfig{})
	require.NoError(t, err)
	c.Holder().AddTemporaryShard(0, temp)

	opNum, err := c.UpsertFromPeer(context.Background(), 0, types.PointOperation{
		Kind:   types.OpUpsert,
		Points: []types.Point{{ID: 1, Vectors: map[string]types.Vector{"": {1, 1}}}},
	}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, opNum)

	count, err := temp.Count(context.Background(), types.CountRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count.Count, "temporary shard shadowing an incoming transfer must also receive peer writes")
}

func TestSearchBatchMergesAcrossShardsAndRespectsLimit(t *testing.T) {
	c := newTestCollection(t, 4)
	upsertPoints(t, c, 50)

	batch := types.SearchBatch{Requests: []types.SearchRequest{{
		Vector:      types.Vector{0, 1},
		Limit:       5,
		Distance:    types.DistanceEuclid,
		WithPayload: true,
		WithVector:  true,
	}}}
	results, err := c.SearchBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, len(results[0]), 5)
	for i := 1; i < len(results[0]); i++ {
		assert.LessOrEqual(t, results[0][i-1].Score, results[0][i].Score, "euclid distance must be ascending (closer first)")
	}
}

func TestSearchBatchOffsetOnlyDroppedForClientFacingCalls(t *testing.T) {
	c := newTestCollection(t, 1)
	upsertPoints(t, c, 10)

	clientBatch := types.SearchBatch{Requests: []types.SearchRequest{{
		Vector: types.Vector{0, 1}, Limit: 3, Offset: 2, Distance: types.DistanceEuclid,
	}}}
	clientResults, err := c.SearchBatch(context.Background(), clientBatch)
	require.NoError(t, err)
	assert.Len(t, clientResults[0], 3)

	shardID := uint32(0)
	peerBatch := clientBatch
	peerBatch.ShardSelection = &shardID
	peerResults, err := c.SearchBatch(context.Background(), peerBatch)
	require.NoError(t, err)
	assert.Len(t, peerResults[0], 5, "intra-cluster call must keep limit+offset, not drop offset")
}

func TestScrollByPaginatesInIDOrder(t *testing.T) {
	c := newTestCollection(t, 3)
	upsertPoints(t, c, 15)

	seen := make(map[types.PointID]bool)
	var offset *types.PointID
	for {
		result, err := c.ScrollBy(context.Background(), types.ScrollRequest{Offset: offset, Limit: 4})
		require.NoError(t, err)
		for _, p := range result.Points {
			assert.False(t, seen[p.ID], "point %d scrolled twice", p.ID)
			seen[p.ID] = true
		}
		if result.NextPageOffset == nil {
			break
		}
		offset = result.NextPageOffset
	}
	assert.Len(t, seen, 15)
}

func TestScrollByRejectsZeroLimit(t *testing.T) {
	c := newTestCollection(t, 1)
	_, err := c.ScrollBy(context.Background(), types.ScrollRequest{Limit: 0})
	assert.Error(t, err)
}

func TestRecommendExcludesReferencePoints(t *testing.T) {
	c := newTestCollection(t, 2)
	upsertPoints(t, c, 10)

	results, err := c.Recommend(context.Background(), types.RecommendRequest{
		Positive: []types.PointID{1, 2},
		Limit:    20,
		Distance: types.DistanceEuclid,
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, types.PointID(1), r.ID)
		assert.NotEqual(t, types.PointID(2), r.ID)
	}
}

func TestRecommendRequiresPositive(t *testing.T) {
	c := newTestCollection(t, 1)
	_, err := c.Recommend(context.Background(), types.RecommendRequest{Limit: 5, Distance: types.DistanceEuclid})
	assert.Error(t, err)
}

func TestInfoAggregatesPointsAcrossShards(t *testing.T) {
	c := newTestCollection(t, 3)
	upsertPoints(t, c, 30)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 30, info.PointsCount)
	assert.Equal(t, types.StatusGreen, info.Status)
}

func TestCreateSnapshotProducesReadableArchive(t *testing.T) {
	c := newTestCollection(t, 2)
	upsertPoints(t, c, 5)

	path, err := c.CreateSnapshot(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(f)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.Contains(t, names, "version")
	assert.Contains(t, names, "config.json")
}

func TestNeedsTwoStepFillThreshold(t *testing.T) {
	batch := types.SearchBatch{Requests: []types.SearchRequest{{Limit: 1, WithPayload: true, WithVector: true}}}
	assert.True(t, needsTwoStepFill(batch, 20), "20 shards x 1 limit >> 10x threshold")
	assert.False(t, needsTwoStepFill(batch, 1), "1 shard x 1 limit with no offset stays under the 10x threshold")

	noPayload := types.SearchBatch{Requests: []types.SearchRequest{{Limit: 1}}}
	assert.False(t, needsTwoStepFill(noPayload, 20), "fill only applies when payload or vector is requested")
}

// failingShard always fails Update; its other methods are never exercised
// by the tests above but must satisfy shard.Shard.
type failingShard struct{}

func (f *failingShard) Update(ctx context.Context, op types.PointOperation, wait bool) (uint64, error) {
	return 0, errors.New("simulated shard failure")
}
func (f *failingShard) Search(ctx context.Context, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	return nil, errors.New("simulated shard failure")
}
func (f *failingShard) ScrollBy(ctx context.Context, req types.ScrollRequest) (types.ScrollResult, error) {
	return types.ScrollResult{}, errors.New("simulated shard failure")
}
func (f *failingShard) Count(ctx context.Context, req types.CountRequest) (types.CountResult, error) {
	return types.CountResult{}, errors.New("simulated shard failure")
}
func (f *failingShard) Retrieve(ctx context.Context, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	return nil, errors.New("simulated shard failure")
}
func (f *failingShard) Info(ctx context.Context) (shard.Info, error) {
	return shard.Info{}, errors.New("simulated shard failure")
}
func (f *failingShard) CreateSnapshot(ctx context.Context, dir string) error {
	return errors.New("simulated shard failure")
}
func (f *failingShard) Kind() shard.Kind { return shard.KindLocal }

var _ shard.Shard = (*failingShard)(nil)
