// Package peer owns everything that spans collections on one node: the
// consensus node, the bbolt-backed catalogue of which collections this peer
// hosts and where their peers live, and the glue that turns committed
// consensus operations into pkg/collection and pkg/holder mutations.
// Mirrors warren/pkg/manager.Manager's role as the thing that owns raft,
// a BoltDB-backed store and wires failure callbacks, re-scoped to vector
// shard topology instead of container orchestration state.
package peer

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vectorshard/pkg/types"
)

var (
	bucketCollections = []byte("collections")
	bucketAddresses   = []byte("peer_addresses")
)

// CollectionRecord is the catalogue's entry for one hosted collection: where
// its directory lives and the config it was created with, so a restarting
// peer can re-Open every collection without asking consensus first.
type CollectionRecord struct {
	Name   string                 `json:"name"`
	Root   string                 `json:"root"`
	Config types.CollectionConfig `json:"config"`
}

// Catalog is a bbolt-backed store of CollectionRecords and the cluster's
// peer address table, grounded on warren's BoltStore
// (warren/pkg/storage/boltdb.go) bucket-per-entity-kind pattern. It is a
// distinct concern from pkg/storage/config.go's per-collection config.json:
// that file is the atomic on-disk "this collection's directory is fully
// created" marker for a single collection, while Catalog is this peer's
// index over every collection it hosts plus cluster-wide peer addresses,
// neither of which has a natural single-collection-directory home.
type Catalog struct {
	db *bolt.DB
}

// OpenCatalog opens (creating if needed) the peer catalogue database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open peer catalog: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCollections); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketAddresses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// PutCollection records (or updates) a hosted collection.
func (c *Catalog) PutCollection(rec CollectionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal collection record: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).Put([]byte(rec.Name), data)
	})
}

// DeleteCollection removes name's catalogue entry.
func (c *Catalog) DeleteCollection(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).Delete([]byte(name))
	})
}

// ListCollections returns every hosted collection's record.
func (c *Catalog) ListCollections() ([]CollectionRecord, error) {
	var out []CollectionRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(_, v []byte) error {
			var rec CollectionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode collection record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// GetCollection looks up one hosted collection's record.
func (c *Catalog) GetCollection(name string) (CollectionRecord, bool, error) {
	var rec CollectionRecord
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCollections).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// SetPeerAddress records the dial address for a peer id.
func (c *Catalog) SetPeerAddress(id types.PeerID, addr string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).Put(peerKey(id), []byte(addr))
	})
}

// RemovePeerAddress forgets a peer's dial address.
func (c *Catalog) RemovePeerAddress(id types.PeerID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).Delete(peerKey(id))
	})
}

// PeerAddress returns the dial address recorded for id, if any.
func (c *Catalog) PeerAddress(id types.PeerID) (string, bool, error) {
	var addr string
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAddresses).Get(peerKey(id))
		if data == nil {
			return nil
		}
		found = true
		addr = string(data)
		return nil
	})
	return addr, found, err
}

// PeerAddresses returns the full peer_id -> address table.
func (c *Catalog) PeerAddresses() (map[types.PeerID]string, error) {
	out := make(map[types.PeerID]string)
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAddresses).ForEach(func(k, v []byte) error {
			var id uint64
			if _, err := fmt.Sscanf(string(k), "%d", &id); err != nil {
				return fmt.Errorf("decode peer id key %q: %w", k, err)
			}
			out[types.PeerID(id)] = string(v)
			return nil
		})
	})
	return out, err
}

func peerKey(id types.PeerID) []byte {
	return []byte(fmt.Sprintf("%d", uint64(id)))
}
