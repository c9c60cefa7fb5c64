// Package transfer drives the multi-stage shard-transfer protocol:
// wrapping a shard's local replica as a ForwardProxy, streaming its
// contents to a destination, and promoting/demoting shards across the
// source, destination and any third-party peer once the transfer finishes.
//
// The task pool guaranteeing at most one concurrent transfer per
// (shard, from, to) key is grounded on Weaviate's CopyOpConsumer
// (narendrapsgim-weaviate/cluster/replication/consumer.go): a
// `tokens chan struct{}` bounds concurrency and each task runs under its own
// cancelable context, adapted here into a keyed registry instead of a
// channel-fed work queue since transfers are started individually rather
// than streamed in from a replicated log.
package transfer

import (
	"context"
	"sync"

	"github.com/cuemby/vectorshard/pkg/holder"
	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/shard"
	"github.com/cuemby/vectorshard/pkg/storage"
	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// Status is a task's lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusFinished
	StatusErrored
)

// Dialer resolves a peer id to a live shard client, used to build the
// Remote the source streams into.
type Dialer func(peer types.PeerID) (transport.ShardClient, error)

// OnFinishFunc/OnErrorFunc are invoked when a driven task completes; the
// collection/peer layer wires these to consensus proposals that finish or
// abort the transfer cluster-wide.
type OnFinishFunc func(t types.ShardTransfer)
type OnErrorFunc func(t types.ShardTransfer, err error)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
	err    error
}

func (tk *task) finish(err error) {
	tk.mu.Lock()
	if err != nil {
		tk.status = StatusErrored
		tk.err = err
	} else {
		tk.status = StatusFinished
	}
	tk.mu.Unlock()
	close(tk.done)
}

func (tk *task) snapshot() (Status, error) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.status, tk.err
}

// Coordinator drives shard transfers for one collection on one peer.
type Coordinator struct {
	collection string
	root       string // collection's on-disk root, to persist shard variant changes a transfer commits
	selfID     types.PeerID
	holder     *holder.ShardHolder
	dial       Dialer
	onFinish   OnFinishFunc
	onError    OnErrorFunc

	tokens chan struct{}

	mu    sync.Mutex
	tasks map[types.TransferKey]*task
}

// NewCoordinator constructs a Coordinator bounding concurrent transfer tasks
// to maxWorkers. root is the collection's on-disk directory, used to
// persist each shard's variant (local/remote/temporary) as transfers commit
// so a restart can rehydrate the post-transfer topology from disk.
func NewCoordinator(collection, root string, selfID types.PeerID, h *holder.ShardHolder, dial Dialer, maxWorkers int, onFinish OnFinishFunc, onError OnErrorFunc) *Coordinator {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Coordinator{
		collection: collection,
		root:       root,
		selfID:     selfID,
		holder:     h,
		dial:       dial,
		onFinish:   onFinish,
		onError:    onError,
		tokens:     make(chan struct{}, maxWorkers),
		tasks:      make(map[types.TransferKey]*task),
	}
}

// Start registers t with the shard holder and, if this peer is the driver
// for the shard variant currently at t.ShardID, spawns the copy task.
func (c *Coordinator) Start(ctx context.Context, t types.ShardTransfer) (driving bool, err error) {
	if _, err := c.holder.RegisterStartShardTransfer(t); err != nil {
		return false, err
	}

	shards, err := c.holder.TargetShards(&t.ShardID)
	if err != nil {
		return false, err
	}
	s := shards[0]

	switch s.Kind() {
	case shard.KindLocal:
		driving = true
	case shard.KindRemote, shard.KindForwardProxy, shard.KindProxy:
		driving = false
	case shard.KindReplicaSet:
		rs := s.(*shard.ReplicaSet)
		driving = t.Sync && rs.HasLocal()
	default:
		driving = false
	}

	if driving {
		c.spawn(t)
	}
	return driving, nil
}

// spawn stops any existing task for t's key (its replacement must observe
// NotFound on the next status check) and starts a fresh one.
func (c *Coordinator) spawn(t types.ShardTransfer) {
	key := t.Key()

	c.mu.Lock()
	if existing, ok := c.tasks[key]; ok {
		existing.cancel()
		delete(c.tasks, key)
	}
	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{cancel: cancel, done: make(chan struct{})}
	c.tasks[key] = tk
	c.mu.Unlock()

	go func() {
		select {
		case c.tokens <- struct{}{}:
		case <-ctx.Done():
			tk.finish(ctx.Err())
			return
		}
		defer func() { <-c.tokens }()

		err := c.run(ctx, t)
		tk.finish(err)
		if err != nil {
			log.Errorf("shard transfer task failed", err)
			if c.onError != nil {
				c.onError(t, err)
			}
			return
		}
		if c.onFinish != nil {
			c.onFinish(t)
		}
	}()
}

// run performs the actual copy: wrap-as-ForwardProxy (sync=false) or plain
// stream (sync=true), export the source's points, and push them to the
// destination, which lands them in a temporary shard via StreamPoints.
func (c *Coordinator) run(ctx context.Context, t types.ShardTransfer) error {
	client, err := c.dial(t.To)
	if err != nil {
		return werr.NewServiceError("dial transfer destination %d: %v", t.To, err)
	}
	remote := shard.NewRemote(c.collection, t.To, t.ShardID, client)

	local, err := c.sourceLocal(t)
	if err != nil {
		return err
	}

	if !t.Sync {
		if err := c.proxifySource(t, remote); err != nil {
			return err
		}
	}

	points, err := local.Export(ctx)
	if err != nil {
		return err
	}
	if err := remote.StreamPoints(ctx, points); err != nil {
		return err
	}
	return nil
}

// sourceLocal resolves the *Local currently backing t.ShardID on this peer,
// whether it sits at the top level or inside a ReplicaSet's local slot.
func (c *Coordinator) sourceLocal(t types.ShardTransfer) (*shard.Local, error) {
	s, ok := c.holder.Shard(t.ShardID)
	if !ok {
		return nil, werr.NewNotFound("shard transfer source")
	}
	switch v := s.(type) {
	case *shard.Local:
		return v, nil
	case *shard.ReplicaSet:
		inner, ok := v.LocalShard()
		if !ok {
			return nil, werr.NewServiceError("shard %d replica set has no local replica to drive transfer", t.ShardID)
		}
		if l, ok := inner.(*shard.Local); ok {
			return l, nil
		}
		return nil, werr.NewServiceError("shard %d local slot is not a plain local shard", t.ShardID)
	default:
		return nil, werr.NewServiceError("shard %d variant %s cannot drive a transfer", t.ShardID, s.Kind())
	}
}

// proxifySource wraps a plain top-level Local as a ForwardProxy pointing at
// destination, reporting mirror failures back through onError.
func (c *Coordinator) proxifySource(t types.ShardTransfer, destination *shard.Remote) error {
	s, ok := c.holder.Shard(t.ShardID)
	if !ok {
		return werr.NewNotFound("shard transfer source")
	}
	local, ok := s.(*shard.Local)
	if !ok {
		return werr.NewServiceError("shard %d is not a plain local shard, cannot proxify for transfer", t.ShardID)
	}
	fp := shard.NewForwardProxy(t.ShardID, local, destination, func(shardID types.ShardID, err error) {
		if c.onError != nil {
			c.onError(t, err)
		}
	})
	c.holder.ReplaceShard(t.ShardID, fp)
	return nil
}

// Finish runs the transactional commit of a shard transfer across whichever
// role (source/destination/third-party) this peer plays for t; each step is
// a no-op if the role does not apply here. Returns true iff any step
// observably changed state; idempotent — a repeat call returns false.
func (c *Coordinator) Finish(t types.ShardTransfer) (bool, error) {
	changed := false

	if c.holder.RegisterFinishTransfer(t) {
		changed = true
	}

	if changed2 := c.stopTask(t.Key()); changed2 {
		changed = true
	}

	if t.Sync {
		if t.To == c.selfID {
			if err := c.holder.SetShardReplicaState(t.ShardID, t.To, true); err != nil {
				return changed, err
			}
			changed = true
		}
		return changed, nil
	}

	if t.From == c.selfID {
		if s, ok := c.holder.Shard(t.ShardID); ok {
			if fp, ok := s.(*shard.ForwardProxy); ok {
				client, err := c.dial(t.To)
				if err != nil {
					return changed, werr.NewServiceError("dial %d to finalize transfer: %v", t.To, err)
				}
				fp.Unwrap().BeforeDrop()
				c.holder.ReplaceShard(t.ShardID, shard.NewRemote(c.collection, t.To, t.ShardID, client))
				if err := c.writeVariant(t.ShardID, storage.ShardVariantRemote, t.To); err != nil {
					log.Errorf("persist shard variant after transfer finish failed", err)
				}
				changed = true
			}
		}
	}

	if t.To == c.selfID {
		if temp, ok := c.holder.RemoveTemporaryShard(t.ShardID); ok {
			c.holder.ReplaceShard(t.ShardID, temp)
			if err := c.writeVariant(t.ShardID, storage.ShardVariantLocal, 0); err != nil {
				log.Errorf("persist shard variant after transfer finish failed", err)
			}
			changed = true
		}
	}

	if t.From != c.selfID && t.To != c.selfID {
		if s, ok := c.holder.Shard(t.ShardID); ok {
			if rem, ok := s.(*shard.Remote); ok && rem.PeerID == t.From {
				if client, err := c.dial(t.To); err == nil {
					c.holder.ReplaceShard(t.ShardID, shard.NewRemote(c.collection, t.To, t.ShardID, client))
					if err := c.writeVariant(t.ShardID, storage.ShardVariantRemote, t.To); err != nil {
						log.Errorf("persist shard variant after transfer finish failed", err)
					}
					changed = true
				}
			}
		}
	}

	return changed, nil
}

// writeVariant persists a shard's post-transfer config.json so a restart
// rehydrates the topology this transfer committed to instead of reopening
// the shard as a fresh empty Local. A no-op if this Coordinator was built
// without a root (tests that never touch disk).
func (c *Coordinator) writeVariant(shardID types.ShardID, variant storage.ShardVariantKind, peer types.PeerID) error {
	if c.root == "" {
		return nil
	}
	return storage.WriteShardConfig(c.root, shardID, storage.ShardConfig{Variant: variant, PeerID: peer})
}

// Abort unregisters t, stops its task, reverts any ForwardProxy at
// t.ShardID back to its inner Local, and drops the temporary shard.
// Returns true iff anything changed.
func (c *Coordinator) Abort(t types.ShardTransfer) bool {
	changed := c.holder.RegisterFinishTransfer(t)

	if c.stopTask(t.Key()) {
		changed = true
	}

	if s, ok := c.holder.Shard(t.ShardID); ok {
		if fp, ok := s.(*shard.ForwardProxy); ok {
			c.holder.ReplaceShard(t.ShardID, fp.Unwrap())
			changed = true
		}
	}

	if temp, ok := c.holder.RemoveTemporaryShard(t.ShardID); ok {
		if d, ok := temp.(shard.Droppable); ok {
			d.BeforeDrop()
		}
		changed = true
	}

	return changed
}

func (c *Coordinator) stopTask(key types.TransferKey) bool {
	c.mu.Lock()
	tk, ok := c.tasks[key]
	if ok {
		delete(c.tasks, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	tk.cancel()
	<-tk.done
	return true
}

// Status reports a task's last known state; the second return is false if
// no task is registered for key (already stopped, finished-and-reaped, or
// never started).
func (c *Coordinator) Status(key types.TransferKey) (Status, bool) {
	c.mu.Lock()
	tk, ok := c.tasks[key]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	status, _ := tk.snapshot()
	return status, true
}

// Wait blocks until the task registered for key completes, returning its
// final status. The second return is false if no task is registered.
func (c *Coordinator) Wait(key types.TransferKey) (Status, bool) {
	c.mu.Lock()
	tk, ok := c.tasks[key]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	<-tk.done
	status, _ := tk.snapshot()
	return status, true
}
