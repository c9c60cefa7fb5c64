// Package hashring implements the fair consistent hash ring that maps point
// ids to shard ids. A fixed, large number of virtual nodes per shard keeps
// the partition deterministic and close to balanced regardless of
// shard_count, so that split_by_shard produces the same assignment on every
// peer and across restarts.
package hashring

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/vectorshard/pkg/types"
)

// virtualNodesPerShard is the ring scale factor. Qdrant-style rings use a
// few hundred virtual nodes per shard to keep the point distribution within
// a few percent of uniform; we use the same order of magnitude.
const virtualNodesPerShard = 100

type ringEntry struct {
	hash    uint64
	shardID types.ShardID
}

// Ring is a fair consistent hash ring over a fixed shard count.
type Ring struct {
	entries []ringEntry
}

// New builds a ring for the given number of shards. The resulting
// assignment is a pure function of shardCount: building two rings with the
// same shardCount and hashing the same point id always yields the same
// shard, satisfying the hash-ring determinism invariant.
func New(shardCount uint32) *Ring {
	entries := make([]ringEntry, 0, int(shardCount)*virtualNodesPerShard)
	for shardID := uint32(0); shardID < shardCount; shardID++ {
		for v := 0; v < virtualNodesPerShard; v++ {
			h := hashVirtualNode(shardID, v)
			entries = append(entries, ringEntry{hash: h, shardID: types.ShardID(shardID)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })
	return &Ring{entries: entries}
}

func hashVirtualNode(shardID uint32, vnode int) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], shardID)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(vnode))
	return xxhash.Sum64(buf[:])
}

// ShardFor returns the shard a point id is assigned to.
func (r *Ring) ShardFor(id types.PointID) types.ShardID {
	h := xxhash.Sum64(pointIDBytes(id))
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= h })
	if i == len(r.entries) {
		i = 0
	}
	return r.entries[i].shardID
}

func pointIDBytes(id types.PointID) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

// Split partitions point ids by their assigned shard.
func (r *Ring) Split(ids []types.PointID) map[types.ShardID][]types.PointID {
	out := make(map[types.ShardID][]types.PointID)
	for _, id := range ids {
		s := r.ShardFor(id)
		out[s] = append(out[s], id)
	}
	return out
}
