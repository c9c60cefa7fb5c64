// Package types holds the data model shared across collection, shard,
// holder, transfer and consensus code: points, vectors, filters, search
// requests and the cluster metadata records that flow through consensus.
package types

import "time"

// Distance names the metric used to score a vector comparison.
type Distance string

const (
	DistanceCosine  Distance = "cosine"
	DistanceEuclid  Distance = "euclid"
	DistanceDot     Distance = "dot"
	DistanceManhat  Distance = "manhattan"
)

// LargerIsBetter reports the comparison order for a distance.
func (d Distance) LargerIsBetter() bool {
	return d == DistanceCosine || d == DistanceDot
}

// VectorParams describes one named vector's dimensionality and distance.
type VectorParams struct {
	Size     int      `json:"size"`
	Distance Distance `json:"distance"`
}

// OptimizerConfig tunes the background segment optimizer.
type OptimizerConfig struct {
	DeletedThreshold    float64       `json:"deleted_threshold"`
	MaxSegmentSize      int           `json:"max_segment_size"`
	FlushIntervalSec    int           `json:"flush_interval_sec"`
	DefaultSegmentsWait time.Duration `json:"default_segments_wait"`
}

// CollectionConfig is the durable per-collection configuration, written as
// config.json at the collection root.
type CollectionConfig struct {
	Name              string                  `json:"name"`
	Vectors           map[string]VectorParams `json:"vectors"`
	ShardNumber       uint32                  `json:"shard_number"`
	ReplicationFactor uint32                  `json:"replication_factor"`
	Optimizer         OptimizerConfig         `json:"optimizer"`
}

// PointID identifies a point within a collection.
type PointID uint64

// Vector is a dense embedding for one named vector slot.
type Vector []float32

// Point is the unit of storage: an id, a set of named vectors, and an
// opaque payload.
type Point struct {
	ID      PointID            `json:"id"`
	Vectors map[string]Vector  `json:"vectors"`
	Payload map[string]any     `json:"payload,omitempty"`
}

// MatchCondition is a single field match inside a Filter. Payload query
// parsing itself is out of scope; this is the minimal shape the collection
// and segment dispatcher need to route and to build HasId must-not clauses.
type MatchCondition struct {
	Key     string    `json:"key,omitempty"`
	HasID   []PointID `json:"has_id,omitempty"`
}

// Filter is a conjunction of Must / MustNot / Should condition lists.
type Filter struct {
	Must    []MatchCondition `json:"must,omitempty"`
	MustNot []MatchCondition `json:"must_not,omitempty"`
	Should  []MatchCondition `json:"should,omitempty"`
}

// WithHasIDNot returns a copy of f with an additional must-not HasId clause.
func (f Filter) WithHasIDNot(ids []PointID) Filter {
	out := f
	out.MustNot = append(append([]MatchCondition{}, f.MustNot...), MatchCondition{HasID: ids})
	return out
}

// PointOperation is the tagged union of write operations the segment
// dispatcher and local shard apply. Exactly one of the payload fields is
// set, selected by Kind.
type PointOperationKind string

const (
	OpUpsert        PointOperationKind = "upsert"
	OpDelete        PointOperationKind = "delete"
	OpSetPayload    PointOperationKind = "set_payload"
	OpDeletePayload PointOperationKind = "delete_payload"
	OpSync          PointOperationKind = "sync"
	OpDeleteFilter  PointOperationKind = "delete_filter"
)

// PointOperation is a single write applied to a shard at a given op_num.
type PointOperation struct {
	Kind         PointOperationKind `json:"kind"`
	Points       []Point            `json:"points,omitempty"`
	DeleteIDs    []PointID          `json:"delete_ids,omitempty"`
	PayloadKeys  []string           `json:"payload_keys,omitempty"`
	Filter       *Filter            `json:"filter,omitempty"`
	// SyncFromID/SyncToID/SyncSet are only set for Kind == OpSync: they carry
	// the [from_id,to_id] range and the authoritative point set the dispatcher
	// reconciles local storage against.
	SyncFromID PointID `json:"sync_from_id,omitempty"`
	SyncToID   PointID `json:"sync_to_id,omitempty"`
	SyncSet    []Point `json:"sync_set,omitempty"`
}

// PointIDs returns every point id this operation touches, used for
// split_by_shard and for failing a bulk operation on the first missing id.
func (op PointOperation) PointIDs() []PointID {
	switch op.Kind {
	case OpUpsert, OpSetPayload, OpDeletePayload:
		ids := make([]PointID, 0, len(op.Points))
		for _, p := range op.Points {
			ids = append(ids, p.ID)
		}
		return ids
	case OpDelete:
		return op.DeleteIDs
	default:
		return nil
	}
}

// SyncResult is the (deleted, new, updated) tuple the segment dispatcher
// returns for a sync reconciliation.
type SyncResult struct {
	Deleted int
	New     int
	Updated int
}

// SearchRequest is a single query within a SearchBatch.
type SearchRequest struct {
	Vector      Vector   `json:"vector"`
	VectorName  string   `json:"vector_name,omitempty"`
	Limit       int      `json:"limit"`
	Offset      int      `json:"offset,omitempty"`
	Distance    Distance `json:"distance"`
	Filter      *Filter  `json:"filter,omitempty"`
	WithPayload bool     `json:"with_payload,omitempty"`
	WithVector  bool     `json:"with_vector,omitempty"`
}

// ScoredPoint is one search or scroll result.
type ScoredPoint struct {
	ID      PointID        `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
	Vectors map[string]Vector `json:"vectors,omitempty"`
}

// SearchBatch is a batch of queries dispatched together, plus the optional
// shard_selection that distinguishes client-facing calls from intra-cluster
// peer calls.
type SearchBatch struct {
	Requests       []SearchRequest `json:"requests"`
	ShardSelection *uint32         `json:"shard_selection,omitempty"`
}

// RecommendRequest asks for points similar to the positive set and
// dissimilar to the negative set.
type RecommendRequest struct {
	Positive    []PointID `json:"positive"`
	Negative    []PointID `json:"negative,omitempty"`
	VectorName  string    `json:"vector_name,omitempty"`
	Limit       int       `json:"limit"`
	Distance    Distance  `json:"distance"`
	Filter      *Filter   `json:"filter,omitempty"`
	WithPayload bool      `json:"with_payload,omitempty"`
	WithVector  bool      `json:"with_vector,omitempty"`
}

// ScrollRequest pages through a collection or shard in point-id order.
type ScrollRequest struct {
	Offset         *PointID `json:"offset,omitempty"`
	Limit          int      `json:"limit"`
	WithPayload    bool     `json:"with_payload,omitempty"`
	WithVector     bool     `json:"with_vector,omitempty"`
	Filter         *Filter  `json:"filter,omitempty"`
	ShardSelection *uint32  `json:"shard_selection,omitempty"`
}

// ScrollResult is one page of a scroll.
type ScrollResult struct {
	Points         []ScoredPoint `json:"points"`
	NextPageOffset *PointID      `json:"next_page_offset,omitempty"`
}

// CountRequest/CountResult support Info/count fan-out aggregation.
type CountRequest struct {
	Filter *Filter `json:"filter,omitempty"`
	Exact  bool    `json:"exact,omitempty"`
}

type CountResult struct {
	Count uint64 `json:"count"`
}

// CollectionStatus is the worst-case aggregation of per-shard statuses.
type CollectionStatus int

const (
	StatusGreen CollectionStatus = iota
	StatusYellow
	StatusRed
)

// Worse returns the more severe of a and b ("status is max").
func Worse(a, b CollectionStatus) CollectionStatus {
	if a > b {
		return a
	}
	return b
}

// CollectionInfo aggregates shard Info() calls.
type CollectionInfo struct {
	Status        CollectionStatus `json:"status"`
	PointsCount   uint64           `json:"points_count"`
	SegmentsCount uint64           `json:"segments_count"`
	Config        CollectionConfig `json:"config"`
}

// PeerID identifies one cluster process.
type PeerID uint64

// ShardID identifies one shard within a collection.
type ShardID uint32

// ShardTransfer records an in-flight shard move.
type ShardTransfer struct {
	ShardID  ShardID `json:"shard_id"`
	From     PeerID  `json:"from"`
	To       PeerID  `json:"to"`
	Sync     bool    `json:"sync"`
}

// TransferKey is the transfer-pool task key: (shard, from, to).
type TransferKey struct {
	ShardID ShardID
	From    PeerID
	To      PeerID
}

func (t ShardTransfer) Key() TransferKey {
	return TransferKey{ShardID: t.ShardID, From: t.From, To: t.To}
}

// ReplicaState is a single entry of a replica set's persisted peer->active
// map.
type ReplicaState struct {
	PeerID PeerID `json:"peer_id"`
	Active bool   `json:"active"`
}
