package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// defaultProposeTimeout mirrors warren's raft Apply call, which waits up to
// 5s for a proposal to commit; metadata proposals here are small and rare,
// so a slightly longer default absorbs one lost heartbeat round without
// surprising callers.
const defaultProposeTimeout = 10 * time.Second

const tickInterval = 100 * time.Millisecond

// Transport delivers outbound raft messages to their destination peers;
// pkg/peer implements this over the same gRPC channel pkg/transport uses
// for shard RPCs.
type Transport interface {
	Send(msgs []raftpb.Message)
}

// Node wraps a go.etcd.io/raft/v3 raft.Node with the bbolt-backed Storage
// and the tick/Ready/Advance run loop every raft integration needs,
// grounded on the raftLog main loop in
// server/replication/raftlog/raftlog.go (Yahoo coname) and adapted here to
// dispatch committed entries to an Applier instead of a replication.LogEntry
// channel.
type Node struct {
	id      uint64
	raft    raft.Node
	storage *Storage
	applier Applier
	trans   Transport

	stopCh chan struct{}
	doneCh chan struct{}

	mu           sync.Mutex
	waiters      map[string]chan error
	appliedIndex uint64 // cursor into the log the state machine has applied through; held back on a service error, independent of raft's own Ready/Advance progress
}

func newConfig(id uint64, storage *Storage) *raft.Config {
	return &raft.Config{
		ID:              id,
		ElectionTick:    10,
		HeartbeatTick:   1,
		Storage:         storage,
		MaxSizePerMsg:   1 << 20,
		MaxInflightMsgs: 256,
		CheckQuorum:     true,
		PreVote:         true,
	}
}

// Bootstrap starts a brand-new single/multi-member raft group.
func Bootstrap(id uint64, storage *Storage, peers []raft.Peer, applier Applier, trans Transport) (*Node, error) {
	raftNode := raft.StartNode(newConfig(id, storage), peers)
	return newNode(id, raftNode, storage, applier, trans), nil
}

// Restart resumes an existing raft group from storage after a process
// restart; peers rejoin via the persisted conf state, not the peers list.
func Restart(id uint64, storage *Storage, applier Applier, trans Transport) (*Node, error) {
	raftNode := raft.RestartNode(newConfig(id, storage))
	return newNode(id, raftNode, storage, applier, trans), nil
}

func newNode(id uint64, raftNode raft.Node, storage *Storage, applier Applier, trans Transport) *Node {
	applied, err := storage.AppliedIndex()
	if err != nil {
		log.Errorf("consensus: load applied index failed", err)
	}
	n := &Node{
		id:           id,
		raft:         raftNode,
		storage:      storage,
		applier:      applier,
		trans:        trans,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		waiters:      make(map[string]chan error),
		appliedIndex: applied,
	}
	go n.run()
	return n
}

// run is the canonical raft main loop: tick on a timer, drain Ready,
// persist the hard state and new entries, dispatch outbound messages, then
// Advance. Advancing raft's own replication progress is kept independent of
// whether the application has finished applying every committed entry:
// applyCommitted tracks its own persisted cursor and is retried on every
// tick, so a service error on one entry never stalls Ready delivery for the
// entries after it.
func (n *Node) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(n.doneCh)

	for {
		select {
		case <-ticker.C:
			n.raft.Tick()
			n.applyCommitted()

		case rd := <-n.raft.Ready():
			if err := n.storage.Append(rd.HardState, rd.Entries); err != nil {
				log.Errorf("consensus: persist ready failed", err)
			}
			if n.trans != nil && len(rd.Messages) > 0 {
				n.trans.Send(rd.Messages)
			}
			n.raft.Advance()
			n.applyCommitted()

		case <-n.stopCh:
			n.raft.Stop()
			return
		}
	}
}

// applyCommitted applies every entry between the persisted cursor and
// raft's current commit index, in order, stopping (without advancing the
// cursor past it) the first time an entry's application fails with a
// werr.ServiceError. User errors (bad request, not found, ...) still
// advance the cursor — the operation itself is done, it just didn't
// succeed — only an internal/transient failure holds the cursor back for a
// retry on the next call.
func (n *Node) applyCommitted() {
	commit := n.raft.Status().Commit
	for {
		n.mu.Lock()
		next := n.appliedIndex + 1
		n.mu.Unlock()
		if next > commit {
			return
		}

		entries, err := n.storage.Entries(next, next+1, raft.NoLimit)
		if err != nil {
			log.Errorf("consensus: read committed entry failed", err)
			return
		}
		if len(entries) != 1 {
			return
		}
		if !n.applyEntry(entries[0]) {
			return
		}
	}
}

// applyEntry applies a single committed entry and returns whether the
// cursor advanced past it. It only returns false for a normal entry whose
// Applier call failed with a werr.ServiceError.
func (n *Node) applyEntry(entry raftpb.Entry) bool {
	switch entry.Type {
	case raftpb.EntryConfChange:
		var cc raftpb.ConfChange
		if err := cc.Unmarshal(entry.Data); err != nil {
			log.Errorf("consensus: unmarshal conf change failed", err)
			n.advanceApplied(entry.Index)
			return true
		}
		cs := n.raft.ApplyConfChange(cc)
		if err := n.storage.SaveConfState(*cs); err != nil {
			log.Errorf("consensus: persist conf state failed", err)
		}
		n.advanceApplied(entry.Index)
		return true

	case raftpb.EntryConfChangeV2:
		var cc raftpb.ConfChangeV2
		if err := cc.Unmarshal(entry.Data); err != nil {
			log.Errorf("consensus: unmarshal conf change v2 failed", err)
			n.advanceApplied(entry.Index)
			return true
		}
		cs := n.raft.ApplyConfChange(cc)
		if err := n.storage.SaveConfState(*cs); err != nil {
			log.Errorf("consensus: persist conf state failed", err)
		}
		n.advanceApplied(entry.Index)
		return true

	default:
		if len(entry.Data) == 0 {
			n.advanceApplied(entry.Index)
			return true
		}
		var op ConsensusOperation
		err := json.Unmarshal(entry.Data, &op)
		if err == nil && n.applier != nil {
			err = n.applier.Apply(op)
		}

		var svcErr *werr.ServiceError
		if errors.As(err, &svcErr) {
			log.Errorf("consensus: apply failed with service error, holding cursor for retry", err)
			return false
		}

		n.advanceApplied(entry.Index)
		n.notify(op.ID, err)
		return true
	}
}

func (n *Node) advanceApplied(index uint64) {
	n.mu.Lock()
	n.appliedIndex = index
	n.mu.Unlock()
	if err := n.storage.SaveAppliedIndex(index); err != nil {
		log.Errorf("consensus: persist applied index failed", err)
	}
}

func (n *Node) notify(id string, err error) {
	if id == "" {
		return
	}
	n.mu.Lock()
	ch, ok := n.waiters[id]
	if ok {
		delete(n.waiters, id)
	}
	n.mu.Unlock()
	if ok {
		ch <- err
		close(ch)
	}
}

// Propose submits op without waiting for it to apply.
func (n *Node) Propose(ctx context.Context, op ConsensusOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal consensus operation: %w", err)
	}
	return n.raft.Propose(ctx, data)
}

// ProposeWithWait submits op and blocks until it has committed and been
// applied (or the default timeout elapses), returning the Applier's error
// if any. This is the only way callers should submit metadata changes that
// must be durable before the calling RPC returns.
func (n *Node) ProposeWithWait(ctx context.Context, op ConsensusOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	waiter := make(chan error, 1)
	n.mu.Lock()
	n.waiters[op.ID] = waiter
	n.mu.Unlock()

	data, err := json.Marshal(op)
	if err != nil {
		n.mu.Lock()
		delete(n.waiters, op.ID)
		n.mu.Unlock()
		return fmt.Errorf("marshal consensus operation: %w", err)
	}

	proposeCtx, cancel := context.WithTimeout(ctx, defaultProposeTimeout)
	defer cancel()
	if err := n.raft.Propose(proposeCtx, data); err != nil {
		n.mu.Lock()
		delete(n.waiters, op.ID)
		n.mu.Unlock()
		return err
	}

	select {
	case err := <-waiter:
		return err
	case <-proposeCtx.Done():
		n.mu.Lock()
		delete(n.waiters, op.ID)
		n.mu.Unlock()
		return werr.NewTimeoutError("consensus proposal %s did not apply in time", op.ID)
	}
}

// ProposeConfChange submits a cluster-membership change (peer add/remove),
// used by pkg/peer's add/remove-peer operations.
func (n *Node) ProposeConfChange(ctx context.Context, cc raftpb.ConfChangeI) error {
	return n.raft.ProposeConfChange(ctx, cc)
}

// Step feeds an inbound raft message received over the transport into the
// local raft state machine.
func (n *Node) Step(ctx context.Context, msg raftpb.Message) error {
	return n.raft.Step(ctx, msg)
}

// IsLeader reports whether this node currently believes itself the leader.
func (n *Node) IsLeader() bool {
	return n.raft.Status().Lead == n.id
}

// Stats reports the raft log's commit index, the application's own
// applied-entries cursor and the current voter count, for pkg/peer's
// metrics.StatsSource.ConsensusStats.
func (n *Node) Stats() (commitIndex, appliedIndex uint64, peers int) {
	status := n.raft.Status()
	n.mu.Lock()
	applied := n.appliedIndex
	n.mu.Unlock()
	return status.HardState.Commit, applied, len(status.Progress)
}

// Stop shuts the node down and waits for its run loop to exit.
func (n *Node) Stop() {
	close(n.stopCh)
	<-n.doneCh
}
