package rmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapAndLookup(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 100, BlockCount: 8, Owner: 7, StartOff: 0}))
	require.NoError(t, ix.Map(Record{StartBlock: 50, BlockCount: 4, Owner: 9, StartOff: 16}))

	r, ok := ix.Lookup(103)
	require.True(t, ok)
	require.Equal(t, uint64(7), r.Owner)

	r, ok = ix.Lookup(53)
	require.True(t, ok)
	require.Equal(t, uint64(9), r.Owner)

	_, ok = ix.Lookup(54)
	require.False(t, ok)
	require.Equal(t, 2, ix.Len())
}

func TestMapRejectsOverlap(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 10, BlockCount: 10, Owner: 1}))
	require.ErrorIs(t, ix.Map(Record{StartBlock: 15, BlockCount: 2, Owner: 2}), ErrExists)
	require.ErrorIs(t, ix.Map(Record{StartBlock: 5, BlockCount: 6, Owner: 2}), ErrExists)
	require.Equal(t, 1, ix.Len())
}

func TestUnmapChecksOwnerAndFork(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 10, BlockCount: 10, Owner: 1, Fork: ForkData}))

	require.ErrorIs(t, ix.Unmap(10, 10, 2, ForkData), ErrNoRecord)
	require.ErrorIs(t, ix.Unmap(10, 10, 1, ForkAttr), ErrNoRecord)
	require.ErrorIs(t, ix.Unmap(8, 10, 1, ForkData), ErrNoRecord)

	require.NoError(t, ix.Unmap(10, 10, 1, ForkData))
	require.Zero(t, ix.Len())
}

func TestUnmapMiddleSplitsRecord(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 10, BlockCount: 10, Owner: 1, StartOff: 100}))

	require.NoError(t, ix.Unmap(13, 4, 1, ForkData))
	require.Equal(t, 2, ix.Len())

	left, ok := ix.Lookup(12)
	require.True(t, ok)
	require.Equal(t, Record{StartBlock: 10, BlockCount: 3, Owner: 1, StartOff: 100}, left)

	right, ok := ix.Lookup(17)
	require.True(t, ok)
	require.Equal(t, Record{StartBlock: 17, BlockCount: 3, Owner: 1, StartOff: 107}, right)

	_, ok = ix.Lookup(14)
	require.False(t, ok)
}

func TestOwnersOverRange(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 0, BlockCount: 4, Owner: 1}))
	require.NoError(t, ix.Map(Record{StartBlock: 8, BlockCount: 4, Owner: 2}))
	require.NoError(t, ix.Map(Record{StartBlock: 20, BlockCount: 4, Owner: 3}))

	owners := ix.Owners(2, 10)
	require.Len(t, owners, 2)
	require.Equal(t, uint64(1), owners[0].Owner)
	require.Equal(t, uint64(2), owners[1].Owner)
}

func TestRemapMovesOwnership(t *testing.T) {
	ix := NewIndex()
	from := Record{StartBlock: 10, BlockCount: 4, Owner: 1, StartOff: 0}
	to := Record{StartBlock: 10, BlockCount: 4, Owner: 2, StartOff: 8}
	require.NoError(t, ix.Map(from))

	require.NoError(t, ix.Remap(from, to))
	r, ok := ix.Lookup(10)
	require.True(t, ok)
	require.Equal(t, uint64(2), r.Owner)
	require.Equal(t, uint64(8), r.StartOff)

	// One adjustment per remap, not two.
	require.Equal(t, 2, ix.OpsRecorded())
}

func TestRemapAllOrNothing(t *testing.T) {
	ix := NewIndex()
	from := Record{StartBlock: 10, BlockCount: 4, Owner: 1}
	require.NoError(t, ix.Map(from))
	require.NoError(t, ix.Map(Record{StartBlock: 20, BlockCount: 4, Owner: 3}))

	// Target collides with an existing record: the from record survives.
	err := ix.Remap(from, Record{StartBlock: 22, BlockCount: 4, Owner: 2})
	require.ErrorIs(t, err, ErrExists)
	r, ok := ix.Lookup(10)
	require.True(t, ok)
	require.Equal(t, uint64(1), r.Owner)
	require.Equal(t, 2, ix.Len())
}

func TestOpsRecordedCounts(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 0, BlockCount: 4, Owner: 1}))
	require.NoError(t, ix.Unmap(0, 4, 1, ForkData))
	require.Error(t, ix.Unmap(0, 4, 1, ForkData))
	require.Equal(t, 2, ix.OpsRecorded())
}
