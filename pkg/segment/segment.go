// Package segment defines the contract a local shard drives to apply
// point/payload operations and to answer search/retrieve/count, plus the
// Dispatcher that fans a single shard-level operation out across the set of
// segments the shard currently holds. The vector index itself (HNSW,
// on-disk field maps) is out of scope; MemSegment is a minimal in-memory
// reference implementation used for testing the dispatcher's routing and
// sync-reconciliation logic.
package segment

import (
	"github.com/cuemby/vectorshard/pkg/types"
)

// Segment is the storage-engine contract a local shard drives. A real
// implementation backs this with on-disk vector indices and payload field
// indices; MemSegment below is the reference implementation used in tests.
type Segment interface {
	Upsert(points []types.Point) error
	Delete(ids []types.PointID) error
	UpdatePayload(id types.PointID, payload map[string]any, keys []string, deleteKeys bool) error
	Retrieve(ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error)
	Search(req types.SearchRequest) ([]types.ScoredPoint, error)
	DeleteByFilter(f types.Filter) (int, error)
	Count() (uint64, error)
	// IDs returns the stored point ids whose id falls within [from, to).
	IDs(from, to types.PointID) ([]types.PointID, error)
	// Has reports whether id is stored in this segment and, if so, returns
	// the stored point; the sync reconciliation compares that point with
	// the incoming one to decide "diverging" vs "unchanged".
	Has(id types.PointID) (exists bool, point types.Point, err error)

	Seal()
	Sealed() bool
}
