package segment

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cuemby/vectorshard/pkg/types"
)

// MemSegment is an in-memory reference Segment, sufficient to exercise the
// dispatcher's routing and the local shard's search/scroll/retrieve paths
// in tests without a real vector index.
type MemSegment struct {
	mu     sync.RWMutex
	points map[types.PointID]types.Point
	sealed bool
}

// NewMemSegment returns an empty, appendable segment.
func NewMemSegment() *MemSegment {
	return &MemSegment{points: make(map[types.PointID]types.Point)}
}

func (s *MemSegment) Upsert(points []types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (s *MemSegment) Delete(ids []types.PointID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

func (s *MemSegment) UpdatePayload(id types.PointID, payload map[string]any, keys []string, deleteKeys bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[id]
	if !ok {
		return fmt.Errorf("point %d absent", id)
	}
	if p.Payload == nil {
		p.Payload = make(map[string]any)
	}
	if deleteKeys {
		for _, k := range keys {
			delete(p.Payload, k)
		}
	} else {
		for k, v := range payload {
			p.Payload[k] = v
		}
	}
	s.points[id] = p
	return nil
}

func (s *MemSegment) Retrieve(ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ScoredPoint, 0, len(ids))
	for _, id := range ids {
		p, ok := s.points[id]
		if !ok {
			continue
		}
		out = append(out, toScoredPoint(p, 0, withPayload, withVector))
	}
	return out, nil
}

func (s *MemSegment) Search(req types.SearchRequest) ([]types.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := req.VectorName
	results := make([]types.ScoredPoint, 0, len(s.points))
	for _, p := range s.points {
		if !matchesFilter(p, req.Filter) {
			continue
		}
		v, ok := p.Vectors[name]
		if !ok {
			continue
		}
		score, err := score(req.Distance, req.Vector, v)
		if err != nil {
			return nil, err
		}
		results = append(results, toScoredPoint(p, score, req.WithPayload, req.WithVector))
	}

	largerBetter := req.Distance.LargerIsBetter()
	sort.Slice(results, func(i, j int) bool {
		if largerBetter {
			return results[i].Score > results[j].Score
		}
		return results[i].Score < results[j].Score
	})

	limit := req.Limit + req.Offset
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemSegment) DeleteByFilter(f types.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, p := range s.points {
		if matchesFilter(p, &f) {
			delete(s.points, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemSegment) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.points)), nil
}

func (s *MemSegment) IDs(from, to types.PointID) ([]types.PointID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PointID, 0)
	for id := range s.points {
		if id >= from && id < to {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemSegment) Has(id types.PointID) (bool, types.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[id]
	return ok, p, nil
}

func (s *MemSegment) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

func (s *MemSegment) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

func clonePoint(p types.Point) types.Point {
	out := types.Point{ID: p.ID}
	if p.Vectors != nil {
		out.Vectors = make(map[string]types.Vector, len(p.Vectors))
		for k, v := range p.Vectors {
			vc := make(types.Vector, len(v))
			copy(vc, v)
			out.Vectors[k] = vc
		}
	}
	if p.Payload != nil {
		out.Payload = make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

func toScoredPoint(p types.Point, score float32, withPayload, withVector bool) types.ScoredPoint {
	sp := types.ScoredPoint{ID: p.ID, Score: score}
	if withPayload {
		sp.Payload = p.Payload
	}
	if withVector {
		sp.Vectors = p.Vectors
	}
	return sp
}

func matchesFilter(p types.Point, f *types.Filter) bool {
	if f == nil {
		return true
	}
	for _, c := range f.MustNot {
		if c.HasID != nil && containsID(c.HasID, p.ID) {
			return false
		}
	}
	for _, c := range f.Must {
		if c.HasID != nil && !containsID(c.HasID, p.ID) {
			return false
		}
	}
	return true
}

func containsID(ids []types.PointID, id types.PointID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func score(d types.Distance, a, b types.Vector) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	switch d {
	case types.DistanceCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0, nil
		}
		return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
	case types.DistanceDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(dot), nil
	case types.DistanceEuclid:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum)), nil
	case types.DistanceManhat:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		return float32(sum), nil
	default:
		return 0, fmt.Errorf("unknown distance %q", d)
	}
}
