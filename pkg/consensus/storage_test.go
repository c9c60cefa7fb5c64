package consensus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := OpenStorage(filepath.Join(t.TempDir(), "raft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorageAppendAndEntriesRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	entries := []raftpb.Entry{
		{Term: 1, Index: 1, Type: raftpb.EntryNormal, Data: []byte("a")},
		{Term: 1, Index: 2, Type: raftpb.EntryNormal, Data: []byte("b")},
		{Term: 2, Index: 3, Type: raftpb.EntryNormal, Data: []byte("c")},
	}
	require.NoError(t, s.Append(raftpb.HardState{Term: 2, Commit: 3}, entries))

	last, err := s.LastIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 3, last)

	first, err := s.FirstIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first)

	got, err := s.Entries(1, 4, 1<<30)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("a"), got[0].Data)
	assert.Equal(t, []byte("c"), got[2].Data)

	term, err := s.Term(3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, term)
}

func TestStorageAppendTruncatesConflictingSuffix(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Append(raftpb.HardState{}, []raftpb.Entry{
		{Term: 1, Index: 1, Data: []byte("a")},
		{Term: 1, Index: 2, Data: []byte("b")},
		{Term: 1, Index: 3, Data: []byte("c")},
	}))

	// A new leader overwrites from index 2 onward with different data.
	require.NoError(t, s.Append(raftpb.HardState{}, []raftpb.Entry{
		{Term: 2, Index: 2, Data: []byte("b2")},
	}))

	last, err := s.LastIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 2, last, "stale entry at index 3 must be truncated")

	got, err := s.Entries(1, 3, 1<<30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got[0].Data)
	assert.Equal(t, []byte("b2"), got[1].Data)
}

func TestStorageInitialStatePersistsHardAndConfState(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Append(raftpb.HardState{Term: 5, Vote: 1, Commit: 2}, nil))
	require.NoError(t, s.SaveConfState(raftpb.ConfState{Voters: []uint64{1, 2, 3}}))

	hs, cs, err := s.InitialState()
	require.NoError(t, err)
	assert.EqualValues(t, 5, hs.Term)
	assert.Equal(t, []uint64{1, 2, 3}, cs.Voters)
}

func TestStorageEntriesRespectsMaxSize(t *testing.T) {
	s := newTestStorage(t)
	big := make([]byte, 100)
	require.NoError(t, s.Append(raftpb.HardState{}, []raftpb.Entry{
		{Term: 1, Index: 1, Data: big},
		{Term: 1, Index: 2, Data: big},
		{Term: 1, Index: 3, Data: big},
	}))

	// maxSize smaller than one entry must still return that one entry.
	got, err := s.Entries(1, 4, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func appendRange(t *testing.T, s *Storage, from, to uint64) {
	t.Helper()
	entries := make([]raftpb.Entry, 0, to-from+1)
	for i := from; i <= to; i++ {
		entries = append(entries, raftpb.Entry{Term: 1, Index: i, Data: []byte("x")})
	}
	require.NoError(t, s.Append(raftpb.HardState{Term: 1, Commit: to}, entries))
}

// TestStorageCompactMovesFirstIndexAndCompactsEntries covers a snapshot at
// index 40: FirstIndex becomes 41 and a request for entries spanning the
// compacted boundary fails with raft.ErrCompacted.
func TestStorageCompactMovesFirstIndexAndCompactsEntries(t *testing.T) {
	s := newTestStorage(t)
	appendRange(t, s, 1, 50)

	_, err := s.CreateSnapshot(40, &raftpb.ConfState{Voters: []uint64{1}}, []byte("state@40"))
	require.NoError(t, err)
	require.NoError(t, s.Compact(40))

	first, err := s.FirstIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 41, first)

	_, err = s.Entries(30, 41, raft.NoLimit)
	assert.ErrorIs(t, err, raft.ErrCompacted)

	// Entries entirely past the boundary are unaffected.
	got, err := s.Entries(41, 51, raft.NoLimit)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestStorageSnapshotUnavailableUntilCompacted(t *testing.T) {
	s := newTestStorage(t)
	appendRange(t, s, 1, 5)

	_, err := s.Snapshot()
	assert.ErrorIs(t, err, raft.ErrSnapshotTemporarilyUnavailable)

	snap, err := s.CreateSnapshot(3, nil, []byte("state@3"))
	require.NoError(t, err)
	require.NoError(t, s.Compact(3))

	got, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Metadata.Index, got.Metadata.Index)
	assert.Equal(t, []byte("state@3"), got.Data)
}

func TestStorageTermAtCompactedBoundaryUsesSnapshot(t *testing.T) {
	s := newTestStorage(t)
	appendRange(t, s, 1, 10)

	_, err := s.CreateSnapshot(6, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Compact(6))

	term, err := s.Term(6)
	require.NoError(t, err)
	assert.EqualValues(t, 1, term)

	_, err = s.Term(5)
	assert.ErrorIs(t, err, raft.ErrCompacted)
}
