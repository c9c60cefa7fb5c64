// Package consensus adapts shard-topology and replica-set metadata
// replication onto go.etcd.io/raft/v3: a bbolt-backed raft.Storage
// implementation, a Node wrapper running the usual tick/Ready/Advance loop,
// and a JSON tagged-union operation dispatcher applied to the shard
// holders once entries commit.
//
// The storage adapter's key layout (entries keyed by big-endian index in
// one bucket, hard/conf state in another) is grounded on the raftStorage
// type in server/replication/raftlog/raftlog.go (Yahoo coname), adapted
// from its LevelDB-style kv.DB onto bbolt buckets the way warren's
// BoltStore (warren/pkg/storage/boltdb.go) persists everything else.
package consensus

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

var (
	bucketEntries  = []byte("entries")
	bucketMeta     = []byte("meta")
	bucketSnapshot = []byte("snapshot")

	keyHardState    = []byte("hard_state")
	keyConfState    = []byte("conf_state")
	keyCompactIndex = []byte("compact_index")
	keySnapshot     = []byte("snapshot")
	keyAppliedIndex = []byte("applied_index")
)

// Storage is a bbolt-backed implementation of raft.Storage: every entry,
// the hard state and the conf state are durable across restarts.
type Storage struct {
	db *bolt.DB
}

var _ raft.Storage = (*Storage)(nil)

// OpenStorage opens (creating if needed) the raft log database at path.
func OpenStorage(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open consensus storage: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshot); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func entryKey(index uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return buf[:]
}

// InitialState implements raft.Storage.
func (s *Storage) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	var hs raftpb.HardState
	var cs raftpb.ConfState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if data := b.Get(keyHardState); data != nil {
			if err := hs.Unmarshal(data); err != nil {
				return fmt.Errorf("unmarshal hard state: %w", err)
			}
		}
		if data := b.Get(keyConfState); data != nil {
			if err := cs.Unmarshal(data); err != nil {
				return fmt.Errorf("unmarshal conf state: %w", err)
			}
		}
		return nil
	})
	return hs, cs, err
}

// compactIndex returns the index through which the log has been compacted
// (0 if nothing has been compacted yet); entries at or below it are only
// available via the stored snapshot, not via Entries/Term.
func (s *Storage) compactIndex(tx *bolt.Tx) uint64 {
	data := tx.Bucket(bucketMeta).Get(keyCompactIndex)
	if data == nil {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// Entries implements raft.Storage: returns entries in [lo, hi), bounded by
// maxSize total bytes (always returning at least one entry if any match).
// Returns raft.ErrCompacted if lo falls at or below the compacted boundary.
func (s *Storage) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	var entries []raftpb.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		if compacted := s.compactIndex(tx); lo <= compacted {
			return raft.ErrCompacted
		}

		c := tx.Bucket(bucketEntries).Cursor()
		size := uint64(0)
		for k, v := c.Seek(entryKey(lo)); k != nil; k, v = c.Next() {
			index := binary.BigEndian.Uint64(k)
			if index >= hi {
				break
			}
			var e raftpb.Entry
			if err := e.Unmarshal(v); err != nil {
				return fmt.Errorf("unmarshal entry %d: %w", index, err)
			}
			size += uint64(e.Size())
			if size > maxSize && len(entries) > 0 {
				break
			}
			entries = append(entries, e)
			if size >= maxSize {
				break
			}
		}
		return nil
	})
	return entries, err
}

// Term implements raft.Storage. A request for the compacted boundary index
// itself is answered from the retained snapshot's metadata; anything older
// returns raft.ErrCompacted.
func (s *Storage) Term(i uint64) (uint64, error) {
	var term uint64
	var fromSnapshot bool
	err := s.db.View(func(tx *bolt.Tx) error {
		compacted := s.compactIndex(tx)
		if i < compacted {
			return raft.ErrCompacted
		}
		if i == compacted && compacted > 0 {
			snap, err := readSnapshot(tx)
			if err != nil {
				return err
			}
			term = snap.Metadata.Term
			fromSnapshot = true
		}
		return nil
	})
	if err != nil || fromSnapshot {
		return term, err
	}

	entries, err := s.Entries(i, i+1, raft.NoLimit)
	if err != nil {
		return 0, err
	}
	if len(entries) != 1 {
		return 0, raft.ErrUnavailable
	}
	return entries[0].Term, nil
}

// LastIndex implements raft.Storage. With every entry compacted away it
// reports the compacted boundary index.
func (s *Storage) LastIndex() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		k, _ := c.Last()
		if k == nil {
			last = s.compactIndex(tx)
			return nil
		}
		last = binary.BigEndian.Uint64(k)
		return nil
	})
	return last, err
}

// FirstIndex implements raft.Storage: the oldest index still retrievable
// via Entries, one past the compacted boundary.
func (s *Storage) FirstIndex() (uint64, error) {
	var first uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		first = s.compactIndex(tx) + 1
		return nil
	})
	return first, err
}

func readSnapshot(tx *bolt.Tx) (raftpb.Snapshot, error) {
	var snap raftpb.Snapshot
	data := tx.Bucket(bucketSnapshot).Get(keySnapshot)
	if data == nil {
		return snap, nil
	}
	if err := snap.Unmarshal(data); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Snapshot implements raft.Storage: returns the most recently stored
// snapshot, or raft.ErrSnapshotTemporarilyUnavailable if CreateSnapshot has
// never stored one.
func (s *Storage) Snapshot() (raftpb.Snapshot, error) {
	var snap raftpb.Snapshot
	var has bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshot).Get(keySnapshot)
		if data == nil {
			return nil
		}
		has = true
		return snap.Unmarshal(data)
	})
	if err != nil {
		return raftpb.Snapshot{}, err
	}
	if !has {
		return raftpb.Snapshot{}, raft.ErrSnapshotTemporarilyUnavailable
	}
	return snap, nil
}

// CreateSnapshot builds and persists a snapshot covering every entry up to
// and including index, the way raft.MemoryStorage.CreateSnapshot does: data
// is the application's opaque serialized state as of index. Fails if index
// is not newer than the existing snapshot or is beyond the log's last
// index.
func (s *Storage) CreateSnapshot(index uint64, cs *raftpb.ConfState, data []byte) (raftpb.Snapshot, error) {
	term, err := s.Term(index)
	if err != nil {
		return raftpb.Snapshot{}, err
	}

	snap := raftpb.Snapshot{
		Data: data,
		Metadata: raftpb.SnapshotMetadata{
			Index: index,
			Term:  term,
		},
	}
	if cs != nil {
		snap.Metadata.ConfState = *cs
	}

	marshaled, err := snap.Marshal()
	if err != nil {
		return raftpb.Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		existing, err := readSnapshot(tx)
		if err != nil {
			return err
		}
		if index <= existing.Metadata.Index {
			return raft.ErrSnapOutOfDate
		}
		return tx.Bucket(bucketSnapshot).Put(keySnapshot, marshaled)
	})
	if err != nil {
		return raftpb.Snapshot{}, err
	}
	return snap, nil
}

// Compact discards every log entry at or below compactIndex, which must
// already be covered by a stored snapshot (CreateSnapshot is always called
// first). After Compact, FirstIndex is compactIndex+1, Entries requests at
// or below compactIndex and Term requests below it return raft.ErrCompacted
// (Term(compactIndex) is answered from the snapshot) — scenario:
// compacting through 40 makes FirstIndex 41 and Entries(30, 41, ...)
// return raft.ErrCompacted.
func (s *Storage) Compact(compactIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		current := s.compactIndex(tx)
		if compactIndex <= current {
			return raft.ErrCompacted
		}
		b := tx.Bucket(bucketEntries)
		lastKey, _ := b.Cursor().Last()
		if lastKey == nil || compactIndex > binary.BigEndian.Uint64(lastKey) {
			return fmt.Errorf("compact index %d beyond last index", compactIndex)
		}

		c := b.Cursor()
		for k, _ := c.Seek(entryKey(0)); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) > compactIndex {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], compactIndex)
		return tx.Bucket(bucketMeta).Put(keyCompactIndex, buf[:])
	})
}

// Append persists entries and the accompanying hard state in one bbolt
// transaction, truncating any conflicting suffix first (entries[0].Index
// may overwrite an uncommitted tail left by a previous leader).
func (s *Storage) Append(hs raftpb.HardState, entries []raftpb.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if !raft.IsEmptyHardState(hs) {
			data, err := hs.Marshal()
			if err != nil {
				return err
			}
			if err := meta.Put(keyHardState, data); err != nil {
				return err
			}
		}

		if len(entries) == 0 {
			return nil
		}

		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		// Use Cursor.Delete, not Bucket.Delete(k), while iterating: deleting
		// through the bucket directly during Next() traversal can make the
		// cursor skip entries in bbolt.
		for k, _ := c.Seek(entryKey(entries[0].Index)); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		for _, e := range entries {
			data, err := e.Marshal()
			if err != nil {
				return fmt.Errorf("marshal entry %d: %w", e.Index, err)
			}
			if err := b.Put(entryKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveConfState persists the latest applied conf state.
func (s *Storage) SaveConfState(cs raftpb.ConfState) error {
	data, err := cs.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyConfState, data)
	})
}

// AppliedIndex returns the index of the last entry the application's state
// machine (as opposed to raft's own log replication) has successfully
// applied; 0 if nothing has been applied yet. This cursor is distinct from
// raft's own Commit index: an entry can be committed to the log well before
// the application finishes applying it, and a service-error retry holds
// this cursor back independently of raft's Ready/Advance flow.
func (s *Storage) AppliedIndex() (uint64, error) {
	var applied uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyAppliedIndex)
		if data != nil {
			applied = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return applied, err
}

// SaveAppliedIndex persists the application-level cursor.
func (s *Storage) SaveAppliedIndex(index uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyAppliedIndex, buf[:])
	})
}
