package segment

import (
	"fmt"

	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// AppendablePicker selects the segment a dispatcher should upsert new or
// changed points into. The local shard's holder owns segment selection
// policy (e.g. "the newest unsealed segment"); the dispatcher only needs
// one to hand sync/upsert results to.
type AppendablePicker func(segments []Segment) Segment

// Dispatcher applies a single shard-level point/payload operation across a
// set of segments.
type Dispatcher struct{}

// NewDispatcher returns a stateless dispatcher; all state lives in the
// segments passed to each call.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Apply applies op across segments. Upsert and Sync write into the
// appendable (non-sealed) segment picked by pickAppendable;
// SetPayload/DeletePayload update whichever segment holds each point; Delete
// and DeleteFilter act across every segment since a point may live in any of
// them. A Delete naming an id stored in no segment checks every id before
// deleting anything; SetPayload/DeletePayload stop at the first missing id,
// after updating the points before it. Both return werr.PointNotFound naming
// the first missing id.
func (d *Dispatcher) Apply(op types.PointOperation, opNum uint64, segments []Segment, pickAppendable AppendablePicker) error {
	switch op.Kind {
	case types.OpUpsert:
		target := pickAppendable(appendableOnly(segments))
		if target == nil {
			return werr.NewServiceError("no appendable segment available")
		}
		return target.Upsert(op.Points)

	case types.OpDelete:
		missing := make([]types.PointID, 0)
		for _, id := range op.DeleteIDs {
			found := false
			for _, seg := range segments {
				if ok, _, _ := seg.Has(id); ok {
					found = true
					break
				}
			}
			if !found {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return &werr.PointNotFound{PointID: uint64(missing[0])}
		}
		for _, seg := range segments {
			if err := seg.Delete(op.DeleteIDs); err != nil {
				return err
			}
		}
		return nil

	case types.OpSetPayload, types.OpDeletePayload:
		deleteKeys := op.Kind == types.OpDeletePayload
		for _, p := range op.Points {
			applied := false
			for _, seg := range segments {
				if ok, _, _ := seg.Has(p.ID); ok {
					if err := seg.UpdatePayload(p.ID, p.Payload, op.PayloadKeys, deleteKeys); err != nil {
						return err
					}
					applied = true
					break
				}
			}
			if !applied {
				return &werr.PointNotFound{PointID: uint64(p.ID)}
			}
		}
		return nil

	case types.OpSync:
		target := pickAppendable(appendableOnly(segments))
		if target == nil {
			return werr.NewServiceError("no appendable segment available")
		}
		_, err := d.Sync(op.SyncFromID, op.SyncToID, op.SyncSet, segments, target)
		return err

	case types.OpDeleteFilter:
		if op.Filter == nil {
			return werr.NewBadRequest("delete_filter operation carries no filter")
		}
		_, err := d.DeleteByFilter(*op.Filter, segments)
		return err

	default:
		return fmt.Errorf("unsupported point operation kind %q", op.Kind)
	}
}

// Sync implements the 5-step reconciliation over [fromID, toID) against the
// authoritative syncSet:
//  1. enumerate stored ids in range across all segments
//  2. delete stored ids not present in the sync set
//  3. for overlapping ids, compare (vector, payload); diverging ones are
//     marked for update
//  4. sync-only ids (present in syncSet, absent in storage) are marked new
//  5. upsert the update+new set into the single appendable segment
func (d *Dispatcher) Sync(fromID, toID types.PointID, syncSet []types.Point, segments []Segment, appendable Segment) (types.SyncResult, error) {
	syncByID := make(map[types.PointID]types.Point, len(syncSet))
	for _, p := range syncSet {
		syncByID[p.ID] = p
	}

	stored := make(map[types.PointID]struct{})
	for _, seg := range segments {
		ids, err := seg.IDs(fromID, toID)
		if err != nil {
			return types.SyncResult{}, err
		}
		for _, id := range ids {
			stored[id] = struct{}{}
		}
	}

	var result types.SyncResult
	toDelete := make([]types.PointID, 0)
	toUpsert := make([]types.Point, 0, len(syncSet))

	for id := range stored {
		if _, ok := syncByID[id]; !ok {
			toDelete = append(toDelete, id)
			result.Deleted++
		}
	}

	for id, syncPoint := range syncByID {
		if _, isStored := stored[id]; !isStored {
			toUpsert = append(toUpsert, syncPoint)
			result.New++
			continue
		}
		diverges := true
		for _, seg := range segments {
			if ok, existing, _ := seg.Has(id); ok {
				diverges = !pointsEqual(existing, syncPoint)
				break
			}
		}
		if diverges {
			toUpsert = append(toUpsert, syncPoint)
			result.Updated++
		}
	}

	if len(toDelete) > 0 {
		for _, seg := range segments {
			if err := seg.Delete(toDelete); err != nil {
				return types.SyncResult{}, err
			}
		}
	}
	if len(toUpsert) > 0 {
		if err := appendable.Upsert(toUpsert); err != nil {
			return types.SyncResult{}, err
		}
	}

	return result, nil
}

// DeleteByFilter traverses every segment, summing each one's
// matched-and-deleted count.
func (d *Dispatcher) DeleteByFilter(f types.Filter, segments []Segment) (int, error) {
	total := 0
	for _, seg := range segments {
		n, err := seg.DeleteByFilter(f)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func appendableOnly(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if !s.Sealed() {
			out = append(out, s)
		}
	}
	return out
}

func pointsEqual(a, b types.Point) bool {
	if len(a.Vectors) != len(b.Vectors) {
		return false
	}
	for name, av := range a.Vectors {
		bv, ok := b.Vectors[name]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	if len(a.Payload) != len(b.Payload) {
		return false
	}
	for k, av := range a.Payload {
		bv, ok := b.Payload[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
