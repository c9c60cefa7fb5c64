// Package storage holds the small on-disk persistence helpers that don't
// warrant a full bbolt catalogue: the replica-state file (copy-on-write)
// and the collection version/config file helpers (atomic-creation and
// upgrade-gate rules).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/vectorshard/pkg/types"
)

// ReplicaStateFile persists a replica set's peer->active map with
// copy-on-write semantics: every mutation writes a full new copy to a
// sibling temp file, fsyncs it, then renames it over the original. Readers
// never observe a partially-written file.
type ReplicaStateFile struct {
	path string
	mu   sync.Mutex
}

// OpenReplicaStateFile opens (without yet reading) the replica-state file
// at path.
func OpenReplicaStateFile(path string) *ReplicaStateFile {
	return &ReplicaStateFile{path: path}
}

// Load reads the persisted map, or returns an empty map if the file does
// not exist yet.
func (f *ReplicaStateFile) Load() (map[types.PeerID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *ReplicaStateFile) loadLocked() (map[types.PeerID]bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[types.PeerID]bool), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read replica state: %w", err)
	}
	var entries []types.ReplicaState
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode replica state: %w", err)
	}
	out := make(map[types.PeerID]bool, len(entries))
	for _, e := range entries {
		out[e.PeerID] = e.Active
	}
	return out, nil
}

// WriteWithRes loads the persisted state, passes a clone of it to mutate
// and, only if mutate returns a nil error, atomically persists the map
// mutate returned. It returns mutate's error or the persistence error.
func (f *ReplicaStateFile) WriteWithRes(mutate func(state map[types.PeerID]bool) (map[types.PeerID]bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return err
	}
	clone := make(map[types.PeerID]bool, len(current))
	for k, v := range current {
		clone[k] = v
	}

	next, err := mutate(clone)
	if err != nil {
		return err
	}
	return f.persistLocked(next)
}

func (f *ReplicaStateFile) persistLocked(state map[types.PeerID]bool) error {
	entries := make([]types.ReplicaState, 0, len(state))
	for peer, active := range state {
		entries = append(entries, types.ReplicaState{PeerID: peer, Active: active})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode replica state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create replica state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp replica state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp replica state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp replica state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp replica state: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename replica state into place: %w", err)
	}
	return nil
}

// Remove deletes the replica-state file.
func (f *ReplicaStateFile) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
