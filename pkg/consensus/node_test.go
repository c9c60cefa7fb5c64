package consensus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3"

	"github.com/cuemby/vectorshard/pkg/werr"
)

// recordingApplier records every operation it successfully applies and can
// be told to fail the first failN calls with a transient werr.ServiceError,
// to exercise the apply-cursor retry path.
type recordingApplier struct {
	mu      sync.Mutex
	applied []ConsensusOperation
	failN   int
}

func (a *recordingApplier) Apply(op ConsensusOperation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failN > 0 {
		a.failN--
		return werr.NewServiceError("transient failure")
	}
	a.applied = append(a.applied, op)
	return nil
}

func (a *recordingApplier) appliedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func newTestNode(t *testing.T, applier Applier) *Node {
	t.Helper()
	storage, err := OpenStorage(filepath.Join(t.TempDir(), "raft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	n, err := Bootstrap(1, storage, []raft.Peer{{ID: 1}}, applier, nil)
	require.NoError(t, err)
	t.Cleanup(n.Stop)

	require.Eventually(t, n.IsLeader, 5*time.Second, 20*time.Millisecond, "single-voter node must elect itself leader")
	return n
}

func TestNodeProposeWithWaitAppliesOperation(t *testing.T) {
	applier := &recordingApplier{}
	n := newTestNode(t, applier)

	err := n.ProposeWithWait(context.Background(), ConsensusOperation{Kind: OpUpdateOptimizer, Collection: "col"})
	require.NoError(t, err)
	require.Equal(t, 1, applier.appliedCount())

	commit, applied, peers := n.Stats()
	assert.GreaterOrEqual(t, commit, applied)
	assert.Equal(t, 1, peers)
}

// TestNodeServiceErrorHoldsCursorAndRetries covers the retry contract
// directly: an entry that first fails with a service error must still land
// exactly once, once the transient condition clears, without the caller
// re-proposing it.
func TestNodeServiceErrorHoldsCursorAndRetries(t *testing.T) {
	applier := &recordingApplier{failN: 2}
	n := newTestNode(t, applier)

	require.NoError(t, n.Propose(context.Background(), ConsensusOperation{
		ID: "op-1", Kind: OpUpdateOptimizer, Collection: "col",
	}))

	require.Eventually(t, func() bool {
		return applier.appliedCount() == 1
	}, 5*time.Second, 20*time.Millisecond, "entry must apply once retried past the transient failures")
}

// TestNodeProposeWithWaitSurvivesTransientFailure covers the waiter path: a
// ServiceError on the first apply attempt must not fail or abandon the
// pending ProposeWithWait caller, since the cursor retries on the next
// tick and the waiter is only notified once the entry truly lands.
func TestNodeProposeWithWaitSurvivesTransientFailure(t *testing.T) {
	applier := &recordingApplier{failN: 1}
	n := newTestNode(t, applier)

	err := n.ProposeWithWait(context.Background(), ConsensusOperation{Kind: OpUpdateOptimizer, Collection: "col"})
	require.NoError(t, err)
	assert.Equal(t, 1, applier.appliedCount())
}

// TestNodeUserErrorAdvancesCursorWithoutRetry covers the other half of the
// contract: a non-service error still advances the cursor (the operation
// ran to completion, it just failed) and the waiter sees it immediately.
func TestNodeUserErrorAdvancesCursorWithoutRetry(t *testing.T) {
	applier := applierFunc(func(op ConsensusOperation) error {
		return werr.NewBadRequest("bad op")
	})
	n := newTestNode(t, applier)

	err := n.ProposeWithWait(context.Background(), ConsensusOperation{Kind: OpUpdateOptimizer, Collection: "col"})
	require.Error(t, err)

	_, applied, _ := n.Stats()
	assert.Greater(t, applied, uint64(0))
}

type applierFunc func(op ConsensusOperation) error

func (f applierFunc) Apply(op ConsensusOperation) error { return f(op) }
