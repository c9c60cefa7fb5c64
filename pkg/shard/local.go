package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/segment"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// searchWorkers bounds the concurrent per-segment search fan-out, mirroring
// the token-bounded worker pool idiom used for transfer tasks (see
// pkg/transfer), sized independently since the two pools serve different
// workloads.
const searchWorkers = 8

// Local is the shard variant that owns segments and a write-ahead log on
// this peer.
type Local struct {
	dir string

	dispatcher *segment.Dispatcher

	updateMu   sync.Mutex // serializes op_num assignment + apply
	opNum      uint64
	appendable segment.Segment
	sealed     []segment.Segment

	walMu   sync.Mutex
	walFile *os.File

	optimizerCfg   types.OptimizerConfig
	optimizerCfgMu sync.RWMutex
	restartCh      chan struct{}
	stopCh         chan struct{}
	stopped        bool
	dropped        atomic.Bool
}

// NewLocal creates a Local shard rooted at dir, with dir/wal/wal.log as its
// write-ahead log and a single fresh appendable segment.
func NewLocal(dir string, cfg types.OptimizerConfig) (*Local, error) {
	walDir := filepath.Join(dir, "wal")
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(walDir, "wal.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	l := &Local{
		dir:          dir,
		dispatcher:   segment.NewDispatcher(),
		appendable:   segment.NewMemSegment(),
		walFile:      f,
		optimizerCfg: cfg,
		restartCh:    make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
	go l.optimizerLoop()
	return l, nil
}

func (l *Local) Kind() Kind { return KindLocal }

func (l *Local) allSegments() []segment.Segment {
	return append(append([]segment.Segment{}, l.sealed...), l.appendable)
}

func (l *Local) pickAppendable(_ []segment.Segment) segment.Segment { return l.appendable }

// Update assigns the next op_num under the shard's write lock and applies
// op via the segment dispatcher. If wait, it returns only after the WAL
// entry has been fsynced; otherwise it returns once the in-memory apply
// completes and a background flusher later fsyncs the WAL.
func (l *Local) Update(ctx context.Context, op types.PointOperation, wait bool) (uint64, error) {
	l.updateMu.Lock()
	defer l.updateMu.Unlock()

	opNum := l.opNum + 1

	if err := l.dispatcher.Apply(op, opNum, l.allSegments(), l.pickAppendable); err != nil {
		return 0, err
	}
	l.opNum = opNum

	entry, err := json.Marshal(struct {
		OpNum uint64              `json:"op_num"`
		Op    types.PointOperation `json:"op"`
	}{OpNum: opNum, Op: op})
	if err != nil {
		return 0, fmt.Errorf("marshal wal entry: %w", err)
	}

	l.walMu.Lock()
	if _, err := l.walFile.Write(append(entry, '\n')); err != nil {
		l.walMu.Unlock()
		return 0, werr.NewServiceError("wal write failed: %v", err)
	}
	if wait {
		if err := l.walFile.Sync(); err != nil {
			l.walMu.Unlock()
			return 0, werr.NewServiceError("wal fsync failed: %v", err)
		}
	}
	l.walMu.Unlock()

	return opNum, nil
}

// Search dispatches each query in the batch to every segment on a bounded
// worker pool, merging top-k per query.
func (l *Local) Search(ctx context.Context, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	results := make([][]types.ScoredPoint, len(batch.Requests))
	tokens := make(chan struct{}, searchWorkers)
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for i, req := range batch.Requests {
		wg.Add(1)
		tokens <- struct{}{}
		go func(i int, req types.SearchRequest) {
			defer wg.Done()
			defer func() { <-tokens }()

			merged := make([]types.ScoredPoint, 0)
			for _, seg := range segments {
				segResults, err := seg.Search(req)
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return
				}
				merged = append(merged, segResults...)
			}
			largerBetter := req.Distance.LargerIsBetter()
			sort.Slice(merged, func(a, b int) bool {
				if largerBetter {
					return merged[a].Score > merged[b].Score
				}
				return merged[a].Score < merged[b].Score
			})
			limit := req.Limit + req.Offset
			if limit > 0 && limit < len(merged) {
				merged = merged[:limit]
			}
			results[i] = merged
		}(i, req)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (l *Local) ScrollBy(ctx context.Context, req types.ScrollRequest) (types.ScrollResult, error) {
	if req.Limit <= 0 {
		return types.ScrollResult{}, werr.NewBadRequest("scroll limit must be > 0")
	}

	from := types.PointID(0)
	if req.Offset != nil {
		from = *req.Offset
	}

	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	idSet := make(map[types.PointID]struct{})
	for _, seg := range segments {
		ids, err := seg.IDs(from, types.PointID(^uint64(0)))
		if err != nil {
			return types.ScrollResult{}, err
		}
		for _, id := range ids {
			idSet[id] = struct{}{}
		}
	}

	ids := make([]types.PointID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	take := req.Limit + 1
	if take > len(ids) {
		take = len(ids)
	}
	page := ids[:take]

	points, err := l.Retrieve(ctx, page, req.WithPayload, req.WithVector)
	if err != nil {
		return types.ScrollResult{}, err
	}

	result := types.ScrollResult{Points: points}
	if len(page) > req.Limit {
		result.Points = points[:req.Limit]
		next := page[req.Limit]
		result.NextPageOffset = &next
	}
	return result, nil
}

func (l *Local) Count(ctx context.Context, req types.CountRequest) (types.CountResult, error) {
	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	var total uint64
	for _, seg := range segments {
		c, err := seg.Count()
		if err != nil {
			return types.CountResult{}, err
		}
		total += c
	}
	return types.CountResult{Count: total}, nil
}

func (l *Local) Retrieve(ctx context.Context, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	seen := make(map[types.PointID]bool)
	out := make([]types.ScoredPoint, 0, len(ids))
	for _, seg := range segments {
		points, err := seg.Retrieve(ids, withPayload, withVector)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (l *Local) Info(ctx context.Context) (Info, error) {
	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	var points uint64
	for _, seg := range segments {
		c, err := seg.Count()
		if err != nil {
			return Info{}, err
		}
		points += c
	}
	return Info{Status: types.StatusGreen, PointsCount: points, SegmentsCount: uint64(len(segments))}, nil
}

// CreateSnapshot writes this shard's point contents as a single JSON
// document under dir. The real engine would snapshot on-disk segment files
// directly; the in-memory reference segment serializes its state instead.
func (l *Local) CreateSnapshot(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	allIDs := make(map[types.PointID]struct{})
	for _, seg := range segments {
		ids, err := seg.IDs(0, types.PointID(^uint64(0)))
		if err != nil {
			return err
		}
		for _, id := range ids {
			allIDs[id] = struct{}{}
		}
	}
	ids := make([]types.PointID, 0, len(allIDs))
	for id := range allIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	points, err := l.Retrieve(ctx, ids, true, true)
	if err != nil {
		return err
	}

	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("marshal snapshot points: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "points.json"), data, 0o644)
}

// Export returns every point currently held by this shard, in id order.
// The transfer coordinator uses this to stream a shard's full contents to
// a destination's temporary shard; it shares the id-collection logic with
// CreateSnapshot.
func (l *Local) Export(ctx context.Context) ([]types.Point, error) {
	l.updateMu.Lock()
	segments := l.allSegments()
	l.updateMu.Unlock()

	allIDs := make(map[types.PointID]struct{})
	for _, seg := range segments {
		ids, err := seg.IDs(0, types.PointID(^uint64(0)))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			allIDs[id] = struct{}{}
		}
	}
	ids := make([]types.PointID, 0, len(allIDs))
	for id := range allIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	scored, err := l.Retrieve(ctx, ids, true, true)
	if err != nil {
		return nil, err
	}
	points := make([]types.Point, len(scored))
	for i, sp := range scored {
		points[i] = types.Point{ID: sp.ID, Payload: sp.Payload, Vectors: sp.Vectors}
	}
	return points, nil
}

// OnOptimizerConfigUpdate signals the background optimizer loop to stop its
// current pass and resume with the new config.
func (l *Local) OnOptimizerConfigUpdate(cfg types.OptimizerConfig) {
	l.optimizerCfgMu.Lock()
	l.optimizerCfg = cfg
	l.optimizerCfgMu.Unlock()

	select {
	case l.restartCh <- struct{}{}:
	default:
	}
}

// BeforeDrop quiesces the optimizer loop and flushes the WAL before the
// shard is discarded; calls after the first are no-ops. The shard holder's
// drain hook is responsible for calling it on every shard at shutdown and
// on final drop of a ForwardProxy's inner Local.
func (l *Local) BeforeDrop() {
	if !l.dropped.CompareAndSwap(false, true) {
		return
	}
	close(l.stopCh)

	l.walMu.Lock()
	defer l.walMu.Unlock()
	if err := l.walFile.Sync(); err != nil {
		log.Errorf("final wal sync failed", err)
	}
	if err := l.walFile.Close(); err != nil {
		log.Errorf("wal close failed", err)
	}
}

func (l *Local) optimizerLoop() {
	for {
		l.optimizerCfgMu.RLock()
		interval := time.Duration(l.optimizerCfg.FlushIntervalSec) * time.Second
		l.optimizerCfgMu.RUnlock()
		if interval <= 0 {
			interval = 5 * time.Second
		}

		ticker := time.NewTicker(interval)
		restarted := l.runOptimizerPass(ticker)
		ticker.Stop()
		if !restarted {
			return
		}
	}
}

// runOptimizerPass runs one optimizer cycle until the shard is dropped or
// its config is updated (in which case it returns true so the outer loop
// restarts with the fresh config), mirroring the ticker+select+stopCh idiom
// used for the background transfer and reconciliation loops elsewhere.
func (l *Local) runOptimizerPass(ticker *time.Ticker) bool {
	for {
		select {
		case <-ticker.C:
			l.sealIfOversized()
			l.flushWAL()
		case <-l.restartCh:
			return true
		case <-l.stopCh:
			return false
		}
	}
}

func (l *Local) sealIfOversized() {
	l.optimizerCfgMu.RLock()
	maxSize := l.optimizerCfg.MaxSegmentSize
	l.optimizerCfgMu.RUnlock()
	if maxSize <= 0 {
		return
	}

	l.updateMu.Lock()
	defer l.updateMu.Unlock()
	count, err := l.appendable.Count()
	if err != nil || int(count) < maxSize {
		return
	}
	l.appendable.Seal()
	l.sealed = append(l.sealed, l.appendable)
	l.appendable = segment.NewMemSegment()
}

func (l *Local) flushWAL() {
	l.walMu.Lock()
	defer l.walMu.Unlock()
	if err := l.walFile.Sync(); err != nil {
		log.Errorf("periodic wal sync failed", err)
	}
}
