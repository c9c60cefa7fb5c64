package peer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/vectorshard/pkg/collection"
	"github.com/cuemby/vectorshard/pkg/consensus"
	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// Apply implements consensus.Applier: every committed ConsensusOperation
// lands here, mirroring warren's WarrenFSM.Apply tagged-union dispatch
// (pkg/manager/fsm.go) but operating on this peer's collection catalogue
// and shard holders instead of a BoltStore.
func (p *Peer) Apply(op consensus.ConsensusOperation) error {
	switch op.Kind {
	case consensus.OpCreateCollection:
		return p.applyCreateCollection(op)
	case consensus.OpDropCollection:
		return p.applyDropCollection(op)
	case consensus.OpUpdateOptimizer:
		return p.applyUpdateOptimizer(op)
	case consensus.OpStartTransfer:
		return p.applyStartTransfer(op)
	case consensus.OpFinishTransfer:
		return p.applyFinishTransfer(op)
	case consensus.OpAbortTransfer:
		return p.applyAbortTransfer(op)
	case consensus.OpSetReplicaState:
		return p.applySetReplicaState(op)
	case consensus.OpAddReplica:
		return p.applyAddReplica(op)
	case consensus.OpRemoveReplica:
		return p.applyRemoveReplica(op)
	default:
		return werr.NewBadRequest("unknown consensus operation kind %q", op.Kind)
	}
}

func (p *Peer) applyCreateCollection(op consensus.ConsensusOperation) error {
	if op.CollectionConfig == nil {
		return werr.NewBadRequest("create_collection op missing collection_config")
	}
	if _, err := p.collection(op.Collection); err == nil {
		return nil // already applied; replays must be idempotent-safe
	}

	root := filepath.Join(p.dataDir, "collections", op.Collection)
	c, err := collection.Create(root, op.Collection, *op.CollectionConfig, p.collectionOptions(op.Collection))
	if err != nil {
		return err
	}

	if err := p.catalog.PutCollection(CollectionRecord{
		Name:   op.Collection,
		Root:   root,
		Config: *op.CollectionConfig,
	}); err != nil {
		return err
	}

	p.mu.Lock()
	p.collections[op.Collection] = c
	p.mu.Unlock()
	return nil
}

func (p *Peer) applyDropCollection(op consensus.ConsensusOperation) error {
	p.mu.Lock()
	c, ok := p.collections[op.Collection]
	if ok {
		delete(p.collections, op.Collection)
	}
	p.mu.Unlock()
	if !ok {
		return nil // already applied
	}

	c.BeforeDrop()

	rec, found, err := p.catalog.GetCollection(op.Collection)
	if err != nil {
		return err
	}
	if err := p.catalog.DeleteCollection(op.Collection); err != nil {
		return err
	}
	if found {
		return os.RemoveAll(rec.Root)
	}
	return nil
}

func (p *Peer) applyUpdateOptimizer(op consensus.ConsensusOperation) error {
	if op.OptimizerConfig == nil {
		return werr.NewBadRequest("update_optimizer op missing optimizer_config")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	return c.UpdateOptimizerConfig(*op.OptimizerConfig)
}

func (p *Peer) applyStartTransfer(op consensus.ConsensusOperation) error {
	if op.ShardTransfer == nil {
		return werr.NewBadRequest("start_transfer op missing shard_transfer")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	_, err = c.Transfers().Start(context.Background(), *op.ShardTransfer)
	return err
}

func (p *Peer) applyFinishTransfer(op consensus.ConsensusOperation) error {
	if op.ShardTransfer == nil {
		return werr.NewBadRequest("finish_transfer op missing shard_transfer")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	_, err = c.Transfers().Finish(*op.ShardTransfer)
	return err
}

func (p *Peer) applyAbortTransfer(op consensus.ConsensusOperation) error {
	if op.ShardTransfer == nil {
		return werr.NewBadRequest("abort_transfer op missing shard_transfer")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	c.Transfers().Abort(*op.ShardTransfer)
	return nil
}

func (p *Peer) applySetReplicaState(op consensus.ConsensusOperation) error {
	if op.ShardID == nil || op.PeerID == nil || op.Active == nil {
		return werr.NewBadRequest("set_replica_state op missing shard_id/peer_id/active")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	return c.Holder().SetShardReplicaState(*op.ShardID, *op.PeerID, *op.Active)
}

// applyAddReplica adds a remote replica slot to an already-established
// ReplicaSet. Promoting a collection's shard from Local to a multi-peer
// ReplicaSet at first-add time is a coordinated topology change (wrapping
// the existing Local, dialing the new peer, seeding its temporary shard via
// a transfer) that spans more than this single op; see DESIGN.md for the
// currently-supported replication-factor-1-at-create-time scope.
func (p *Peer) applyAddReplica(op consensus.ConsensusOperation) error {
	if op.ShardID == nil || op.PeerID == nil {
		return werr.NewBadRequest("add_replica op missing shard_id/peer_id")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	s, ok := c.Holder().Shard(*op.ShardID)
	if !ok {
		return werr.NewNotFound(fmt.Sprintf("shard %d", *op.ShardID))
	}
	rs, ok := s.(*shard.ReplicaSet)
	if !ok {
		return werr.NewBadRequest("shard %d is not yet a replica set; add_replica only extends an existing one", *op.ShardID)
	}
	client, err := p.pool.ShardClient(*op.PeerID)
	if err != nil {
		return err
	}
	rs.AddRemote(*op.PeerID, shard.NewRemote(op.Collection, *op.PeerID, *op.ShardID, client))
	return nil
}

func (p *Peer) applyRemoveReplica(op consensus.ConsensusOperation) error {
	if op.ShardID == nil || op.PeerID == nil {
		return werr.NewBadRequest("remove_replica op missing shard_id/peer_id")
	}
	c, err := p.collection(op.Collection)
	if err != nil {
		return err
	}
	s, ok := c.Holder().Shard(*op.ShardID)
	if !ok {
		return werr.NewNotFound(fmt.Sprintf("shard %d", *op.ShardID))
	}
	rs, ok := s.(*shard.ReplicaSet)
	if !ok {
		return werr.NewBadRequest("shard %d is not a replica set", *op.ShardID)
	}
	return rs.RemoveReplica(*op.PeerID)
}
