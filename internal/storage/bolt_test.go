package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err, "open bolt store")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStoreLoadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Load("ws-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreSnapshotThenLoad(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot("ws-1", []byte("snap-1")))

	snap, updates, err := s.Load("ws-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", string(snap))
	assert.Empty(t, updates)
}

func TestBoltStoreAppendUpdatePreservesOrder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot("ws-1", []byte("snap-0")))

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, s.AppendUpdate("ws-1", []byte(u)))
	}

	_, updates, err := s.Load("ws-1")
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "u1", string(updates[0]))
	assert.Equal(t, "u3", string(updates[2]))
}

func TestBoltStoreExists(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Exists("ws-1")
	require.NoError(t, err)
	assert.False(t, ok, "expected no snapshot to exist yet")

	require.NoError(t, s.SaveSnapshot("ws-1", []byte("snap-1")))

	ok, err = s.Exists("ws-1")
	require.NoError(t, err)
	assert.True(t, ok, "expected snapshot to exist after SaveSnapshot")
}

func TestBoltStoreDeleteRemovesSnapshotAndUpdates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot("ws-1", []byte("snap-1")))
	require.NoError(t, s.AppendUpdate("ws-1", []byte("u1")))

	require.NoError(t, s.Delete("ws-1"))

	ok, err := s.Exists("ws-1")
	require.NoError(t, err)
	assert.False(t, ok, "expected snapshot to be gone after Delete")

	_, _, err = s.Load("ws-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreDeleteMissingWorkspaceIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Delete("never-existed"))
}

func TestBoltStoreCompactionThreshold(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot("ws-1", []byte("snap-0")))
	s.compactionThreshold = 2

	require.NoError(t, s.AppendUpdate("ws-1", []byte("u1")))
	assert.False(t, s.ShouldCompact("ws-1"), "should not need compaction after one update with threshold 2")

	require.NoError(t, s.AppendUpdate("ws-1", []byte("u2")))
	assert.True(t, s.ShouldCompact("ws-1"), "expected compaction to be due after crossing the threshold")

	require.NoError(t, s.SaveSnapshot("ws-1", []byte("snap-1")))
	assert.False(t, s.ShouldCompact("ws-1"), "compaction should reset the pending count")

	snap, updates, err := s.Load("ws-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", string(snap))
	assert.Empty(t, updates)
}
