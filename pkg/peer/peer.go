package peer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/raft/v3"

	"github.com/cuemby/vectorshard/pkg/collection"
	"github.com/cuemby/vectorshard/pkg/consensus"
	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/metrics"
	"github.com/cuemby/vectorshard/pkg/transfer"
	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

const proposeTimeout = 5 * time.Second

// Config configures a Peer.
type Config struct {
	ID       types.PeerID
	BindAddr string
	DataDir  string
}

// Peer is the per-node owner of the consensus group, the collection
// catalogue and every collection this node currently hosts. It implements
// consensus.Applier (committed operations mutate collections/holders),
// transport.ShardServer (incoming RPCs dispatch to the right collection's
// shard holder) and metrics.StatsSource (periodic gauge sampling). Mirrors
// warren/pkg/manager.Manager's role, re-scoped to vector shard topology.
type Peer struct {
	id       types.PeerID
	bindAddr string
	dataDir  string

	catalog *Catalog
	storage *consensus.Storage
	node    *consensus.Node
	pool    *dialPool

	mu          sync.RWMutex
	collections map[string]*collection.Collection
}

var (
	_ consensus.Applier     = (*Peer)(nil)
	_ transport.ShardServer = (*Peer)(nil)
	_ metrics.StatsSource   = (*Peer)(nil)
)

// Open opens (creating if needed) a peer's on-disk state: its catalogue and
// consensus log. The raft node itself is started separately by Bootstrap or
// Restart, since a brand-new cluster and a rejoining one take different
// raft-level entry points.
func Open(cfg Config) (*Peer, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create peer data dir: %w", err)
	}
	catalog, err := OpenCatalog(filepath.Join(cfg.DataDir, "catalog.db"))
	if err != nil {
		return nil, err
	}
	consensusStorage, err := consensus.OpenStorage(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		catalog.Close()
		return nil, err
	}
	p := &Peer{
		id:          cfg.ID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		catalog:     catalog,
		storage:     consensusStorage,
		collections: make(map[string]*collection.Collection),
	}
	p.pool = newDialPool(catalog)
	return p, nil
}

// Bootstrap starts a brand-new single/multi-member raft group with this
// peer as the sole initial voter; additional peers join via ProposeConfChange.
func (p *Peer) Bootstrap() error {
	trans := newRaftTransport(p.pool, p.id)
	node, err := consensus.Bootstrap(uint64(p.id), p.storage, []raft.Peer{{ID: uint64(p.id)}}, p, trans)
	if err != nil {
		return err
	}
	p.node = node
	return nil
}

// Restart resumes an existing raft group after a process restart and
// reopens every collection this peer's catalogue records as hosted.
func (p *Peer) Restart() error {
	trans := newRaftTransport(p.pool, p.id)
	node, err := consensus.Restart(uint64(p.id), p.storage, p, trans)
	if err != nil {
		return err
	}
	p.node = node
	return p.reopenCollections()
}

func (p *Peer) reopenCollections() error {
	recs, err := p.catalog.ListCollections()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		c, err := collection.Open(rec.Root, rec.Name, p.collectionOptions(rec.Name))
		if err != nil {
			return fmt.Errorf("reopen collection %s: %w", rec.Name, err)
		}
		p.mu.Lock()
		p.collections[rec.Name] = c
		p.mu.Unlock()
	}
	return nil
}

// Stop shuts the raft node down and closes the catalogue/consensus storage.
func (p *Peer) Stop() {
	if p.node != nil {
		p.node.Stop()
	}
	p.mu.Lock()
	for _, c := range p.collections {
		c.BeforeDrop()
	}
	p.mu.Unlock()
	p.storage.Close()
	p.catalog.Close()
}

func (p *Peer) collectionOptions(name string) collection.Options {
	return collection.Options{
		SelfID:               p.id,
		Dial:                 transfer.Dialer(p.pool.ShardClient),
		MaxTransferWorkers:   4,
		OnReplicaFailure:     func(shardID types.ShardID, peerID types.PeerID) { p.onReplicaFailure(name, shardID, peerID) },
		RequestShardTransfer: func(t types.ShardTransfer) { p.requestShardTransfer(name, t) },
		OnTransferFinished:   func(t types.ShardTransfer) { p.onTransferFinished(name, t) },
		OnTransferError:      func(t types.ShardTransfer, err error) { p.onTransferError(name, t, err) },
	}
}

func (p *Peer) collection(name string) (*collection.Collection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.collections[name]
	if !ok {
		return nil, werr.NewNotFound(fmt.Sprintf("collection %s", name))
	}
	return c, nil
}

// propose submits op without blocking on apply; used by the async failure
// callbacks below, which fire from inside collection/transfer code that
// must not block on consensus round trips.
func (p *Peer) propose(op consensus.ConsensusOperation) {
	ctx, cancel := context.WithTimeout(context.Background(), proposeTimeout)
	defer cancel()
	if err := p.node.Propose(ctx, op); err != nil {
		log.Errorf("consensus: propose failed", err)
	}
}

func (p *Peer) onReplicaFailure(collectionName string, shardID types.ShardID, peerID types.PeerID) {
	active := false
	p.propose(consensus.ConsensusOperation{
		Kind:       consensus.OpSetReplicaState,
		Collection: collectionName,
		ShardID:    &shardID,
		PeerID:     &peerID,
		Active:     &active,
	})
}

func (p *Peer) requestShardTransfer(collectionName string, t types.ShardTransfer) {
	p.propose(consensus.ConsensusOperation{
		Kind:          consensus.OpStartTransfer,
		Collection:    collectionName,
		ShardTransfer: &t,
	})
}

func (p *Peer) onTransferFinished(collectionName string, t types.ShardTransfer) {
	p.propose(consensus.ConsensusOperation{
		Kind:          consensus.OpFinishTransfer,
		Collection:    collectionName,
		ShardTransfer: &t,
	})
}

func (p *Peer) onTransferError(collectionName string, t types.ShardTransfer, err error) {
	log.Errorf(fmt.Sprintf("shard transfer failed for %s", collectionName), err)
	p.propose(consensus.ConsensusOperation{
		Kind:          consensus.OpAbortTransfer,
		Collection:    collectionName,
		ShardTransfer: &t,
	})
}

// CreateCollection proposes a new collection and blocks until this peer
// has applied it.
func (p *Peer) CreateCollection(ctx context.Context, name string, cfg types.CollectionConfig) error {
	return p.node.ProposeWithWait(ctx, consensus.ConsensusOperation{
		Kind:             consensus.OpCreateCollection,
		Collection:       name,
		CollectionConfig: &cfg,
	})
}

// DropCollection proposes a collection's removal and blocks until applied.
func (p *Peer) DropCollection(ctx context.Context, name string) error {
	return p.node.ProposeWithWait(ctx, consensus.ConsensusOperation{
		Kind:       consensus.OpDropCollection,
		Collection: name,
	})
}

// UpdateOptimizerConfig proposes an optimizer config change for name.
func (p *Peer) UpdateOptimizerConfig(ctx context.Context, name string, cfg types.OptimizerConfig) error {
	return p.node.ProposeWithWait(ctx, consensus.ConsensusOperation{
		Kind:            consensus.OpUpdateOptimizer,
		Collection:      name,
		OptimizerConfig: &cfg,
	})
}

// ListCollectionNames returns every collection name this peer currently hosts.
func (p *Peer) ListCollectionNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.collections))
	for name := range p.collections {
		out = append(out, name)
	}
	return out
}

// AddPeerAddress records a cluster member's dial address, used both by the
// RPC transport pool and by the raft transport for message delivery.
func (p *Peer) AddPeerAddress(id types.PeerID, addr string) error {
	return p.catalog.SetPeerAddress(id, addr)
}

// ID returns this peer's id.
func (p *Peer) ID() types.PeerID { return p.id }

// Node exposes the raft node.
func (p *Peer) Node() *consensus.Node { return p.node }
