package shard

import (
	"context"
	"sync"

	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/types"
)

// TransferErrorFunc is invoked by a ForwardProxy when mirroring a write to
// its destination fails; the transfer coordinator registers one per active
// transfer and aborts on the first report.
type TransferErrorFunc func(shardID types.ShardID, err error)

// ForwardProxy temporarily wraps a Local shard during an outbound transfer,
// mirroring every write to a destination Remote. Reads are served entirely
// by the wrapped Local. ForwardProxy deliberately does not implement
// Droppable: the inner Local's BeforeDrop must only run on final drop,
// never on proxify/unproxify, so the transfer coordinator calls it
// directly on the unwrapped Local.
type ForwardProxy struct {
	inner       *Local
	destination *Remote
	shardID     types.ShardID
	onError     TransferErrorFunc
	errOnce     sync.Once
}

// NewForwardProxy wraps inner, mirroring writes to destination.
func NewForwardProxy(shardID types.ShardID, inner *Local, destination *Remote, onError TransferErrorFunc) *ForwardProxy {
	return &ForwardProxy{inner: inner, destination: destination, shardID: shardID, onError: onError}
}

func (p *ForwardProxy) Kind() Kind { return KindForwardProxy }

// Unwrap returns the inner Local unchanged.
func (p *ForwardProxy) Unwrap() *Local { return p.inner }

// Update applies locally and concurrently streams the same operation to the
// destination. Destination failure does not fail the local write; it
// reports a transfer error instead.
func (p *ForwardProxy) Update(ctx context.Context, op types.PointOperation, wait bool) (uint64, error) {
	opNum, localErr := p.inner.Update(ctx, op, wait)
	if localErr != nil {
		return 0, localErr
	}

	go func() {
		// Mirror the operation itself, not just its Points: a delete or a
		// payload-only update carries no (or narrowed) Points and would be
		// silently dropped or misapplied as an upsert if reduced to a point
		// list and pushed through the bulk-export StreamPoints path.
		if _, err := p.destination.Update(context.Background(), op, false); err != nil {
			log.Errorf("forward proxy mirror to destination failed", err)
			p.errOnce.Do(func() {
				if p.onError != nil {
					p.onError(p.shardID, err)
				}
			})
		}
	}()

	return opNum, nil
}

func (p *ForwardProxy) Search(ctx context.Context, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	return p.inner.Search(ctx, batch)
}

func (p *ForwardProxy) ScrollBy(ctx context.Context, req types.ScrollRequest) (types.ScrollResult, error) {
	return p.inner.ScrollBy(ctx, req)
}

func (p *ForwardProxy) Count(ctx context.Context, req types.CountRequest) (types.CountResult, error) {
	return p.inner.Count(ctx, req)
}

func (p *ForwardProxy) Retrieve(ctx context.Context, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	return p.inner.Retrieve(ctx, ids, withPayload, withVector)
}

func (p *ForwardProxy) Info(ctx context.Context) (Info, error) {
	return p.inner.Info(ctx)
}

func (p *ForwardProxy) CreateSnapshot(ctx context.Context, dir string) error {
	return p.inner.CreateSnapshot(ctx, dir)
}

var _ Shard = (*ForwardProxy)(nil)
