// Package holder implements the shard holder: the per-collection owner of
// every shard variant, the hash ring, and the live transfer registry.
package holder

import (
	"fmt"
	"sync"

	"github.com/cuemby/vectorshard/pkg/hashring"
	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// ShardHolder owns shards map[shard_id]Shard, a parallel temporary-shard
// map, the hash ring, and the set of active ShardTransfer records, all
// behind one sync.RWMutex.
type ShardHolder struct {
	mu        sync.RWMutex
	shards    map[types.ShardID]shard.Shard
	temporary map[types.ShardID]shard.Shard
	transfers map[types.TransferKey]types.ShardTransfer
	ring      *hashring.Ring
}

// New constructs an empty holder for a collection with the given shard
// count, building the hash ring once up front: shard count is set at
// creation and does not change.
func New(shardCount uint32) *ShardHolder {
	return &ShardHolder{
		shards:    make(map[types.ShardID]shard.Shard),
		temporary: make(map[types.ShardID]shard.Shard),
		transfers: make(map[types.TransferKey]types.ShardTransfer),
		ring:      hashring.New(shardCount),
	}
}

// SetShard installs a shard for shardID. Used during load_shards and when
// a collection creates its initial topology.
func (h *ShardHolder) SetShard(id types.ShardID, s shard.Shard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shards[id] = s
}

// Ring returns the holder's hash ring.
func (h *ShardHolder) Ring() *hashring.Ring {
	return h.ring
}

// TargetShards resolves a selection to the shard(s) a caller should act on.
// If selection is non-nil, it returns exactly the canonical shard at that
// id; a temporary shard registered for the id is not returned (only
// TargetShardsForPeerApply returns it, alongside the canonical shard). If
// selection is nil, every canonical shard is returned (used for fan-out
// reads).
func (h *ShardHolder) TargetShards(selection *types.ShardID) ([]shard.Shard, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if selection != nil {
		s, ok := h.shards[*selection]
		if !ok {
			return nil, werr.NewNotFound(fmt.Sprintf("shard %d", *selection))
		}
		return []shard.Shard{s}, nil
	}

	out := make([]shard.Shard, 0, len(h.shards))
	for _, s := range h.shards {
		out = append(out, s)
	}
	return out, nil
}

// TargetShardsForPeerApply resolves the shard(s) an intra-cluster peer
// write should be applied to: the canonical shard, and additionally its
// temporary shard if a transfer destination exists for it (so a
// ForwardProxy source and the shadowed destination temporary both receive
// the op).
func (h *ShardHolder) TargetShardsForPeerApply(id types.ShardID) ([]shard.Shard, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.shards[id]
	if !ok {
		return nil, werr.NewNotFound(fmt.Sprintf("shard %d", id))
	}
	out := []shard.Shard{s}
	if tmp, ok := h.temporary[id]; ok {
		out = append(out, tmp)
	}
	return out, nil
}

// SplitByShard partitions point ids by hash-ring assignment. Collection
// code uses this to build per-shard sub-operations before calling
// TargetShards for each resulting shard id.
func (h *ShardHolder) SplitByShard(ids []types.PointID) map[types.ShardID][]types.PointID {
	return h.ring.Split(ids)
}

// RegisterStartShardTransfer inserts t; returns false if an identical
// record was already present, and an error if a conflicting transfer (same
// shard_id, different from/to) already exists.
func (h *ShardHolder) RegisterStartShardTransfer(t types.ShardTransfer) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.transfers[t.Key()]; ok {
		if existing == t {
			return false, nil
		}
		return false, werr.NewBadRequest("conflicting transfer already registered for shard %d", t.ShardID)
	}
	for key, existing := range h.transfers {
		if key.ShardID == t.ShardID {
			return false, werr.NewBadRequest("conflicting transfer already registered for shard %d", t.ShardID)
		}
		_ = existing
	}
	h.transfers[t.Key()] = t
	return true, nil
}

// RegisterFinishTransfer removes t; returns true iff it was present.
func (h *ShardHolder) RegisterFinishTransfer(t types.ShardTransfer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.transfers[t.Key()]; !ok {
		return false
	}
	delete(h.transfers, t.Key())
	return true
}

// HasTransfer reports whether a transfer is currently registered for key.
func (h *ShardHolder) HasTransfer(key types.TransferKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.transfers[key]
	return ok
}

// Transfers returns a snapshot of every currently-registered transfer.
func (h *ShardHolder) Transfers() []types.ShardTransfer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.ShardTransfer, 0, len(h.transfers))
	for _, t := range h.transfers {
		out = append(out, t)
	}
	return out
}

// AddTemporaryShard attaches a Local-only shard out-of-band for the
// duration of an incoming transfer. At most one exists per shard_id;
// creating a new one overwrites any existing temporary for that id.
func (h *ShardHolder) AddTemporaryShard(id types.ShardID, s shard.Shard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.temporary[id] = s
}

// RemoveTemporaryShard detaches and returns the temporary shard for id, if
// any.
func (h *ShardHolder) RemoveTemporaryShard(id types.ShardID) (shard.Shard, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.temporary[id]
	if ok {
		delete(h.temporary, id)
	}
	return s, ok
}

// TemporaryShard returns the temporary shard for id without removing it.
func (h *ShardHolder) TemporaryShard(id types.ShardID) (shard.Shard, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.temporary[id]
	return s, ok
}

// ReplaceShard atomically swaps the shard at id. The caller must have
// already called the old shard's drain hook (BeforeDrop) before replacing
// it.
func (h *ShardHolder) ReplaceShard(id types.ShardID, next shard.Shard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shards[id] = next
}

// Shard returns the shard at id, if any.
func (h *ShardHolder) Shard(id types.ShardID) (shard.Shard, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.shards[id]
	return s, ok
}

// SetShardReplicaState is only valid if the shard at shardID is a
// *shard.ReplicaSet.
func (h *ShardHolder) SetShardReplicaState(shardID types.ShardID, peerID types.PeerID, active bool) error {
	h.mu.RLock()
	s, ok := h.shards[shardID]
	h.mu.RUnlock()
	if !ok {
		return werr.NewNotFound(fmt.Sprintf("shard %d", shardID))
	}
	rs, ok := s.(*shard.ReplicaSet)
	if !ok {
		return werr.NewBadRequest("shard %d is not a replica set", shardID)
	}
	return rs.SetActive(peerID, active)
}

// DrainAll calls BeforeDrop on every Droppable shard, quiescing optimizers
// and flushing WALs. Collections call this from their shutdown hook.
func (h *ShardHolder) DrainAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.shards {
		if d, ok := s.(shard.Droppable); ok {
			d.BeforeDrop()
		}
	}
	for _, s := range h.temporary {
		if d, ok := s.(shard.Droppable); ok {
			d.BeforeDrop()
		}
	}
}

// ShardIDs returns every shard id currently held, sorted not guaranteed.
func (h *ShardHolder) ShardIDs() []types.ShardID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.ShardID, 0, len(h.shards))
	for id := range h.shards {
		out = append(out, id)
	}
	return out
}
