package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vectorshard/pkg/types"
)

func TestReplicaStateFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica_state")
	f := OpenReplicaStateFile(path)

	err := f.WriteWithRes(func(state map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		state[1] = true
		state[2] = false
		return state, nil
	})
	require.NoError(t, err)

	reopened := OpenReplicaStateFile(path)
	loaded, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, map[types.PeerID]bool{1: true, 2: false}, loaded)
}

func TestReplicaStateFileLastPersistedMapSurvivesReopen(t *testing.T) {
	// Invariant 2: for any sequence of set_active/add/remove interleaved
	// with "crashes" (here: reopening the file between each mutation),
	// reopening yields exactly the last successfully persisted map.
	path := filepath.Join(t.TempDir(), "replica_state")

	mutations := []func(map[types.PeerID]bool) (map[types.PeerID]bool, error){
		func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) { s[1] = true; return s, nil },
		func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) { s[2] = true; return s, nil },
		func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) { s[1] = false; return s, nil },
		func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) { delete(s, 2); return s, nil },
	}

	var want map[types.PeerID]bool
	for _, mutate := range mutations {
		f := OpenReplicaStateFile(path)
		require.NoError(t, f.WriteWithRes(mutate))

		reloaded := OpenReplicaStateFile(path)
		loaded, err := reloaded.Load()
		require.NoError(t, err)
		want = loaded
	}

	final := OpenReplicaStateFile(path)
	got, err := final.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, map[types.PeerID]bool{1: false}, got)
}

func TestReplicaStateFileMutateErrorDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica_state")
	f := OpenReplicaStateFile(path)
	require.NoError(t, f.WriteWithRes(func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		s[1] = true
		return s, nil
	}))

	err := f.WriteWithRes(func(s map[types.PeerID]bool) (map[types.PeerID]bool, error) {
		s[1] = false
		return nil, assert.AnError
	})
	require.Error(t, err)

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, map[types.PeerID]bool{1: true}, loaded)
}
