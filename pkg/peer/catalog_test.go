package peer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/types"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalogCollectionRoundTrip(t *testing.T) {
	c := newTestCatalog(t)

	rec := CollectionRecord{
		Name: "events",
		Root: "/data/events",
		Config: types.CollectionConfig{
			Name:        "events",
			ShardNumber: 4,
			Vectors:     map[string]types.VectorParams{"": {Size: 3, Distance: types.DistanceCosine}},
		},
	}
	require.NoError(t, c.PutCollection(rec))

	got, found, err := c.GetCollection("events")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	_, found, err = c.GetCollection("missing")
	require.NoError(t, err)
	assert.False(t, found)

	list, err := c.ListCollections()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec, list[0])

	require.NoError(t, c.DeleteCollection("events"))
	_, found, err = c.GetCollection("events")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCatalogListCollectionsEmpty(t *testing.T) {
	c := newTestCatalog(t)
	list, err := c.ListCollections()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCatalogPeerAddresses(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.SetPeerAddress(types.PeerID(1), "10.0.0.1:7000"))
	require.NoError(t, c.SetPeerAddress(types.PeerID(2), "10.0.0.2:7000"))

	addr, found, err := c.PeerAddress(types.PeerID(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "10.0.0.1:7000", addr)

	all, err := c.PeerAddresses()
	require.NoError(t, err)
	assert.Equal(t, map[types.PeerID]string{
		1: "10.0.0.1:7000",
		2: "10.0.0.2:7000",
	}, all)

	require.NoError(t, c.RemovePeerAddress(types.PeerID(1)))
	_, found, err = c.PeerAddress(types.PeerID(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCatalogPutCollectionOverwrites(t *testing.T) {
	c := newTestCatalog(t)

	rec := CollectionRecord{Name: "a", Root: "/data/a"}
	require.NoError(t, c.PutCollection(rec))

	rec.Root = "/data/a-moved"
	require.NoError(t, c.PutCollection(rec))

	got, found, err := c.GetCollection("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/data/a-moved", got.Root)
}
