package peer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/collection"
	"github.com/cuemby/vectorshard/pkg/consensus"
	"github.com/cuemby/vectorshard/pkg/types"
)

// newTestPeer builds a Peer whose raft node is nil: Apply never touches
// p.node, only the catalogue and in-memory collection map, so consensus
// operations can be exercised directly without a live raft group.
func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	dir := t.TempDir()
	catalog, err := OpenCatalog(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	p := &Peer{
		id:          1,
		dataDir:     dir,
		catalog:     catalog,
		collections: make(map[string]*collection.Collection),
	}
	p.pool = newDialPool(catalog)
	t.Cleanup(func() {
		for _, c := range p.collections {
			c.BeforeDrop()
		}
	})
	return p
}

func testCollectionConfig(name string) types.CollectionConfig {
	return types.CollectionConfig{
		Name:        name,
		ShardNumber: 2,
		Vectors:     map[string]types.VectorParams{"": {Size: 2, Distance: types.DistanceEuclid}},
	}
}

func TestApplyCreateCollection(t *testing.T) {
	p := newTestPeer(t)
	cfg := testCollectionConfig("widgets")

	err := p.Apply(consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       "widgets",
		CollectionConfig: &cfg,
	})
	require.NoError(t, err)

	c, err := p.collection("widgets")
	require.NoError(t, err)
	assert.NotNil(t, c)

	rec, found, err := p.catalog.GetCollection("widgets")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "widgets", rec.Name)
	assert.DirExists(t, rec.Root)
}

func TestApplyCreateCollectionIsIdempotent(t *testing.T) {
	p := newTestPeer(t)
	cfg := testCollectionConfig("widgets")
	op := consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       "widgets",
		CollectionConfig: &cfg,
	}

	require.NoError(t, p.Apply(op))
	require.NoError(t, p.Apply(op))

	list, err := p.catalog.ListCollections()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApplyCreateCollectionMissingConfig(t *testing.T) {
	p := newTestPeer(t)
	err := p.Apply(consensus.ConsensusOperation{
		Kind:       consensus.OpCreateCollection,
		Collection: "widgets",
	})
	assert.Error(t, err)
}

func TestApplyDropCollectionRemovesRootAndCatalogEntry(t *testing.T) {
	p := newTestPeer(t)
	cfg := testCollectionConfig("widgets")
	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       "widgets",
		CollectionConfig: &cfg,
	}))

	rec, found, err := p.catalog.GetCollection("widgets")
	require.NoError(t, err)
	require.True(t, found)
	root := rec.Root

	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:       consensus.OpDropCollection,
		Collection: "widgets",
	}))

	_, err = p.collection("widgets")
	assert.Error(t, err)

	_, found, err = p.catalog.GetCollection("widgets")
	require.NoError(t, err)
	assert.False(t, found)

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyDropCollectionIsIdempotent(t *testing.T) {
	p := newTestPeer(t)
	cfg := testCollectionConfig("widgets")
	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       "widgets",
		CollectionConfig: &cfg,
	}))
	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:       consensus.OpDropCollection,
		Collection: "widgets",
	}))

	// replaying the same committed entry a second time must not error
	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:       consensus.OpDropCollection,
		Collection: "widgets",
	}))
}

func TestApplyUpdateOptimizer(t *testing.T) {
	p := newTestPeer(t)
	cfg := testCollectionConfig("widgets")
	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       "widgets",
		CollectionConfig: &cfg,
	}))

	optCfg := types.OptimizerConfig{DeletedThreshold: 0.5, MaxSegmentSize: 1000, FlushIntervalSec: 5}
	err := p.Apply(consensus.ConsensusOperation{
		Kind:            consensus.OpUpdateOptimizer,
		Collection:      "widgets",
		OptimizerConfig: &optCfg,
	})
	require.NoError(t, err)
}

func TestApplyUpdateOptimizerUnknownCollection(t *testing.T) {
	p := newTestPeer(t)
	optCfg := types.OptimizerConfig{MaxSegmentSize: 1000}
	err := p.Apply(consensus.ConsensusOperation{
		Kind:            consensus.OpUpdateOptimizer,
		Collection:      "missing",
		OptimizerConfig: &optCfg,
	})
	assert.Error(t, err)
}

func TestApplyUnknownOperationKind(t *testing.T) {
	p := newTestPeer(t)
	err := p.Apply(consensus.ConsensusOperation{Kind: "bogus"})
	assert.Error(t, err)
}

func TestApplyAddReplicaRequiresExistingReplicaSet(t *testing.T) {
	p := newTestPeer(t)
	cfg := testCollectionConfig("widgets")
	require.NoError(t, p.Apply(consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       "widgets",
		CollectionConfig: &cfg,
	}))

	shardID := types.ShardID(0)
	peerID := types.PeerID(2)
	err := p.Apply(consensus.ConsensusOperation{
		Kind:       consensus.OpAddReplica,
		Collection: "widgets",
		ShardID:    &shardID,
		PeerID:     &peerID,
	})
	// a freshly created collection's shards are Local, not yet a ReplicaSet
	assert.Error(t, err)
}
