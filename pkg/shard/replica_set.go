package shard

import (
	"context"
	"os"
	"sync"

	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/storage"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// defaultReadRemoteReplicas is the bounded first-tier fan-out size for the
// read path.
const defaultReadRemoteReplicas = 2

// FailureFunc is invoked with the offending peer when a remote replica
// write fails; the collection wires this to a consensus proposal marking
// the replica inactive.
type FailureFunc func(peerID types.PeerID)

// ReplicaSet groups one optional local replica and N remote replicas for a
// single shard. The local slot is boxed (`local Shard`) so it can hold
// either a *Local or a *ForwardProxy during an outbound transfer.
type ReplicaSet struct {
	shardID types.ShardID
	dataDir string // on-disk directory of the local replica, removed when it is dropped

	mu      sync.RWMutex
	local   Shard // *Local or *ForwardProxy; nil if this peer holds no local replica
	localID types.PeerID
	hasLocal bool
	remotes map[types.PeerID]*Remote

	state *storage.ReplicaStateFile

	readRemoteReplicas int
	onFailure          FailureFunc
}

// NewReplicaSet constructs a replica set with no replicas; SetLocal records
// which peer id is "local". dataDir is the local replica's on-disk shard
// directory (e.g. storage.ShardDataDir's result); RemoveReplica deletes it
// when the local replica is dropped. statePath is the replica-state file,
// and onFailure is called when a remote replica write fails.
func NewReplicaSet(shardID types.ShardID, dataDir, statePath string, onFailure FailureFunc) *ReplicaSet {
	return &ReplicaSet{
		shardID:            shardID,
		dataDir:            dataDir,
		remotes:            make(map[types.PeerID]*Remote),
		state:              storage.OpenReplicaStateFile(statePath),
		readRemoteReplicas: defaultReadRemoteReplicas,
		onFailure:          onFailure,
	}
}

func (rs *ReplicaSet) Kind() Kind { return KindReplicaSet }

// HasLocal reports whether this replica set holds a local replica on this
// peer (plain Local or a ForwardProxy wrapping one) — the transfer
// coordinator's "drive iff sync && replica_set.local.is_some()" check.
func (rs *ReplicaSet) HasLocal() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.hasLocal
}

// LocalPeerID returns the peer id this replica set's local slot is
// registered under; only meaningful if HasLocal is true.
func (rs *ReplicaSet) LocalPeerID() types.PeerID {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.localID
}

// LocalShard returns the current local slot (plain Local or ForwardProxy).
func (rs *ReplicaSet) LocalShard() (Shard, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.local, rs.hasLocal
}

// SetLocal installs the local replica under peerID (this peer's id).
func (rs *ReplicaSet) SetLocal(peerID types.PeerID, local Shard) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.local = local
	rs.localID = peerID
	rs.hasLocal = true
}

// AddRemote installs a remote replica.
func (rs *ReplicaSet) AddRemote(peerID types.PeerID, remote *Remote) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.remotes[peerID] = remote
}

func (rs *ReplicaSet) activePeers() (local bool, remotes []types.PeerID) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	state, err := rs.state.Load()
	if err != nil {
		log.Errorf("replica state load failed, treating all as inactive", err)
		state = nil
	}

	if rs.hasLocal && state[rs.localID] {
		local = true
	}
	for peer := range rs.remotes {
		if state[peer] {
			remotes = append(remotes, peer)
		}
	}
	return local, remotes
}

// Update fans out to the local replica (if active) and every active remote
// concurrently. It returns the first reply; on any remote failure it
// invokes onFailure with the offending peer and returns an error naming
// that peer.
func (rs *ReplicaSet) Update(ctx context.Context, op types.PointOperation, wait bool) (uint64, error) {
	localActive, activeRemotes := rs.activePeers()
	if !localActive && len(activeRemotes) == 0 {
		return 0, werr.NewServiceError("no active replica for shard %d", rs.shardID)
	}

	type result struct {
		opNum  uint64
		err    error
		peer   types.PeerID
		remote bool
	}

	total := len(activeRemotes)
	if localActive {
		total++
	}
	results := make(chan result, total)

	if localActive {
		rs.mu.RLock()
		local := rs.local
		localID := rs.localID
		rs.mu.RUnlock()
		go func() {
			opNum, err := local.Update(ctx, op, wait)
			results <- result{opNum: opNum, err: err, peer: localID}
		}()
	}
	for _, peer := range activeRemotes {
		rs.mu.RLock()
		remote := rs.remotes[peer]
		rs.mu.RUnlock()
		go func(peer types.PeerID, remote *Remote) {
			opNum, err := remote.Update(ctx, op, wait)
			results <- result{opNum: opNum, err: err, peer: peer, remote: true}
		}(peer, remote)
	}

	var first result
	var firstErr error
	var failingPeer, failedRemote types.PeerID
	remoteFailed := false
	haveFirst := false
	for i := 0; i < total; i++ {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				failingPeer = r.peer
			}
			if r.remote && !remoteFailed {
				remoteFailed = true
				failedRemote = r.peer
			}
			continue
		}
		if !haveFirst {
			first = r
			haveFirst = true
		}
	}

	if firstErr != nil {
		if remoteFailed && rs.onFailure != nil {
			rs.onFailure(failedRemote)
		}
		return 0, werr.NewServiceError("replica at peer %d failed shard %d write: %v", failingPeer, rs.shardID, firstErr)
	}
	return first.opNum, nil
}

// readFanout implements the three-tier read path: local first, then a
// bounded subset of active remotes, then the remainder, first success wins
// at each tier.
func readFanout[T any](rs *ReplicaSet, call func(Shard) (T, error)) (T, error) {
	var zero T
	localActive, activeRemotes := rs.activePeers()

	if localActive {
		rs.mu.RLock()
		local := rs.local
		rs.mu.RUnlock()
		v, err := call(local)
		if err == nil {
			return v, nil
		}
	}

	rs.mu.RLock()
	remotes := make([]*Remote, 0, len(activeRemotes))
	for _, peer := range activeRemotes {
		remotes = append(remotes, rs.remotes[peer])
	}
	rs.mu.RUnlock()

	firstTierSize := rs.readRemoteReplicas
	if firstTierSize > len(remotes) {
		firstTierSize = len(remotes)
	}

	var firstErr error
	tryTier := func(tier []*Remote) (T, bool) {
		for _, r := range tier {
			v, err := call(r)
			if err == nil {
				return v, true
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return zero, false
	}

	if v, ok := tryTier(remotes[:firstTierSize]); ok {
		return v, nil
	}
	if v, ok := tryTier(remotes[firstTierSize:]); ok {
		return v, nil
	}
	if firstErr != nil {
		return zero, firstErr
	}
	return zero, werr.NewServiceError("no active replica for shard %d", rs.shardID)
}

func (rs *ReplicaSet) Search(ctx context.Context, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	return readFanout(rs, func(s Shard) ([][]types.ScoredPoint, error) { return s.Search(ctx, batch) })
}

func (rs *ReplicaSet) ScrollBy(ctx context.Context, req types.ScrollRequest) (types.ScrollResult, error) {
	return readFanout(rs, func(s Shard) (types.ScrollResult, error) { return s.ScrollBy(ctx, req) })
}

func (rs *ReplicaSet) Count(ctx context.Context, req types.CountRequest) (types.CountResult, error) {
	return readFanout(rs, func(s Shard) (types.CountResult, error) { return s.Count(ctx, req) })
}

func (rs *ReplicaSet) Retrieve(ctx context.Context, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	return readFanout(rs, func(s Shard) ([]types.ScoredPoint, error) { return s.Retrieve(ctx, ids, withPayload, withVector) })
}

func (rs *ReplicaSet) Info(ctx context.Context) (Info, error) {
	return readFanout(rs, func(s Shard) (Info, error) { return s.Info(ctx) })
}

func (rs *ReplicaSet) CreateSnapshot(ctx context.Context, dir string) error {
	rs.mu.RLock()
	local := rs.local
	hasLocal := rs.hasLocal
	rs.mu.RUnlock()
	if !hasLocal {
		return werr.NewServiceError("shard %d has no local replica on this peer to snapshot", rs.shardID)
	}
	return local.CreateSnapshot(ctx, dir)
}

// SetActive flips a peer's persisted active flag.
func (rs *ReplicaSet) SetActive(peer types.PeerID, active bool) error {
	return rs.state.WriteWithRes(func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		s[peer] = active
		return s, nil
	})
}

// AddInactiveReplicaState registers a newly known peer as inactive. Fails
// if the peer is already known.
func (rs *ReplicaSet) AddInactiveReplicaState(peer types.PeerID) error {
	return rs.state.WriteWithRes(func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		if _, ok := s[peer]; ok {
			return nil, werr.NewBadRequest("peer %d already known to replica set for shard %d", peer, rs.shardID)
		}
		s[peer] = false
		return s, nil
	})
}

// RemoveReplica drops peer from the set. If peer is the local replica, it is
// first quiesced via BeforeDrop and its on-disk directory removed before its
// state entry is cleared; if remote, it is simply dropped from the remote
// map. Fails if peer is absent from both.
func (rs *ReplicaSet) RemoveReplica(peer types.PeerID) error {
	rs.mu.Lock()
	_, isRemote := rs.remotes[peer]
	isLocal := rs.hasLocal && rs.localID == peer
	local := rs.local
	rs.mu.Unlock()

	if !isRemote && !isLocal {
		return werr.NewBadRequest("peer %d is not a replica of shard %d", peer, rs.shardID)
	}

	if isLocal {
		dropLocalFromDisk(local)
		if rs.dataDir != "" {
			if err := os.RemoveAll(rs.dataDir); err != nil {
				log.Errorf("remove local shard directory failed", err)
			}
		}
	}

	err := rs.state.WriteWithRes(func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		delete(s, peer)
		return s, nil
	})
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if isLocal {
		rs.local = nil
		rs.hasLocal = false
	} else {
		delete(rs.remotes, peer)
	}
	return nil
}

// dropLocalFromDisk unwraps s to its concrete *Local (a ForwardProxy may
// still be wrapping it if the replica is removed mid-transfer) and calls
// BeforeDrop on it, mirroring the before_drop then drop_and_delete_from_disk
// sequence a replica removal requires.
func dropLocalFromDisk(s Shard) {
	switch v := s.(type) {
	case *Local:
		v.BeforeDrop()
	case *ForwardProxy:
		v.Unwrap().BeforeDrop()
	}
}

// ProxifyLocal replaces the local replica with a ForwardProxy wrapping it
// and pointing at destination. Fails if there is no local replica or it is
// not a plain *Local (e.g. already proxied).
func (rs *ReplicaSet) ProxifyLocal(destination *Remote, onError TransferErrorFunc) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.hasLocal {
		return werr.NewBadRequest("shard %d has no local replica to proxify", rs.shardID)
	}
	localShard, ok := rs.local.(*Local)
	if !ok {
		return werr.NewBadRequest("shard %d local replica is not a plain local shard", rs.shardID)
	}
	rs.local = NewForwardProxy(rs.shardID, localShard, destination, onError)
	return nil
}

// UnproxifyLocal reverts a ForwardProxy local replica back to its inner
// Local. It is a no-op if the local replica is already plain.
func (rs *ReplicaSet) UnproxifyLocal() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if fp, ok := rs.local.(*ForwardProxy); ok {
		rs.local = fp.Unwrap()
	}
}

// ApplyState reconciles the persisted map with a supplied target: removes
// replicas absent from target, flips actives to match, and errors if a new
// peer appears for which no concrete shard exists yet — per the resolved
// Open Question, that case is a BadRequest; the caller (the peer's
// consensus-applied UpdateReplicaSetState handler) must register a
// transfer so a concrete remote shard exists before calling ApplyState
// again with that peer present.
func (rs *ReplicaSet) ApplyState(target map[types.PeerID]bool) error {
	rs.mu.RLock()
	known := make(map[types.PeerID]bool, len(rs.remotes)+1)
	if rs.hasLocal {
		known[rs.localID] = true
	}
	for peer := range rs.remotes {
		known[peer] = true
	}
	rs.mu.RUnlock()

	for peer := range target {
		if !known[peer] {
			return werr.NewBadRequest("shard %d: unknown new peer %d in target replica state; register a transfer first", rs.shardID, peer)
		}
	}

	for peer := range known {
		if _, ok := target[peer]; !ok {
			if err := rs.RemoveReplica(peer); err != nil {
				return err
			}
		}
	}

	return rs.state.WriteWithRes(func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		for peer, active := range target {
			s[peer] = active
		}
		for peer := range s {
			if _, ok := target[peer]; !ok {
				delete(s, peer)
			}
		}
		return s, nil
	})
}

var _ Shard = (*ReplicaSet)(nil)
