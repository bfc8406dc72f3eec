package bmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/internal/format"
)

func extentsFork(ms ...Mapping) *Fork {
	f := &Fork{Format: format.ForkFormatExtents}
	for _, m := range ms {
		if err := f.Insert(m); err != nil {
			panic(err)
		}
	}
	return f
}

func TestInsertKeepsSortedOrder(t *testing.T) {
	f := extentsFork(
		Mapping{StartOff: 100, StartBlock: 500, BlockCount: 4},
		Mapping{StartOff: 0, StartBlock: 300, BlockCount: 4},
		Mapping{StartOff: 50, StartBlock: 400, BlockCount: 4},
	)
	require.Equal(t, uint64(3), f.NExtents())
	require.Equal(t, uint64(0), f.Extents[0].StartOff)
	require.Equal(t, uint64(50), f.Extents[1].StartOff)
	require.Equal(t, uint64(100), f.Extents[2].StartOff)
	require.Equal(t, uint64(12), f.Blocks())
}

func TestInsertMergesLeft(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4})
	require.NoError(t, f.Insert(Mapping{StartOff: 4, StartBlock: 104, BlockCount: 2}))
	require.Equal(t, uint64(1), f.NExtents())
	require.Equal(t, uint64(6), f.Extents[0].BlockCount)
}

func TestInsertMergesRight(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 4, StartBlock: 104, BlockCount: 4})
	require.NoError(t, f.Insert(Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4}))
	require.Equal(t, uint64(1), f.NExtents())
	require.Equal(t, uint64(0), f.Extents[0].StartOff)
	require.Equal(t, uint64(100), f.Extents[0].StartBlock)
	require.Equal(t, uint64(8), f.Extents[0].BlockCount)
}

func TestInsertBridgesBoth(t *testing.T) {
	f := extentsFork(
		Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4},
		Mapping{StartOff: 8, StartBlock: 108, BlockCount: 4},
	)
	require.NoError(t, f.Insert(Mapping{StartOff: 4, StartBlock: 104, BlockCount: 4}))
	require.Equal(t, uint64(1), f.NExtents())
	require.Equal(t, uint64(12), f.Extents[0].BlockCount)
}

func TestInsertNoMergeAcrossState(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4})
	require.NoError(t, f.Insert(Mapping{StartOff: 4, StartBlock: 104, BlockCount: 4, Unwritten: true}))
	require.Equal(t, uint64(2), f.NExtents())
}

func TestInsertNoMergeWhenPhysicallyDiscontiguous(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4})
	require.NoError(t, f.Insert(Mapping{StartOff: 4, StartBlock: 200, BlockCount: 4}))
	require.Equal(t, uint64(2), f.NExtents())
}

func TestInsertRejectsOverlap(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 10, StartBlock: 100, BlockCount: 10})
	require.ErrorIs(t, f.Insert(Mapping{StartOff: 15, StartBlock: 300, BlockCount: 2}), ErrOverlap)
	require.ErrorIs(t, f.Insert(Mapping{StartOff: 5, StartBlock: 300, BlockCount: 6}), ErrOverlap)
	require.Equal(t, uint64(1), f.NExtents())
}

func TestInsertRejectsOverlongMapping(t *testing.T) {
	f := &Fork{Format: format.ForkFormatExtents}
	require.ErrorIs(t, f.Insert(Mapping{BlockCount: format.MaxExtentLen + 1}), ErrTooLong)
}

func TestInsertMergeRespectsMaxExtentLen(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 0, StartBlock: 0, BlockCount: format.MaxExtentLen})
	require.NoError(t, f.Insert(Mapping{
		StartOff: format.MaxExtentLen, StartBlock: format.MaxExtentLen, BlockCount: 1,
	}))
	require.Equal(t, uint64(2), f.NExtents())
}

func TestInsertRejectsNonMappingFormat(t *testing.T) {
	f := &Fork{Format: format.ForkFormatInline}
	require.ErrorIs(t, f.Insert(Mapping{BlockCount: 1}), ErrBadFormat)
}

func TestLookupExtent(t *testing.T) {
	f := extentsFork(
		Mapping{StartOff: 10, StartBlock: 100, BlockCount: 4},
		Mapping{StartOff: 20, StartBlock: 200, BlockCount: 4},
	)
	m, ok := f.LookupExtent(12)
	require.True(t, ok)
	require.Equal(t, uint64(100), m.StartBlock)

	_, ok = f.LookupExtent(14) // hole
	require.False(t, ok)

	next, ok := f.NextExtent(14)
	require.True(t, ok)
	require.Equal(t, uint64(20), next.StartOff)
}

func TestRemoveMiddleSplits(t *testing.T) {
	f := extentsFork(Mapping{StartOff: 0, StartBlock: 100, BlockCount: 10})
	require.NoError(t, f.Remove(3, 4))
	require.Equal(t, uint64(2), f.NExtents())
	require.Equal(t, Mapping{StartOff: 0, StartBlock: 100, BlockCount: 3}, f.Extents[0])
	require.Equal(t, Mapping{StartOff: 7, StartBlock: 107, BlockCount: 3}, f.Extents[1])
}

func TestRemoveSpanningMultipleExtents(t *testing.T) {
	f := extentsFork(
		Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4},
		Mapping{StartOff: 4, StartBlock: 200, BlockCount: 4},
		Mapping{StartOff: 8, StartBlock: 300, BlockCount: 4},
	)
	require.NoError(t, f.Remove(2, 8))
	require.Equal(t, uint64(2), f.NExtents())
	require.Equal(t, uint64(2), f.Extents[0].BlockCount)
	require.Equal(t, Mapping{StartOff: 10, StartBlock: 302, BlockCount: 2}, f.Extents[1])
}

func TestRemoveHoleFailsWithoutPartialEffect(t *testing.T) {
	f := extentsFork(
		Mapping{StartOff: 0, StartBlock: 100, BlockCount: 4},
		Mapping{StartOff: 8, StartBlock: 300, BlockCount: 4},
	)
	require.ErrorIs(t, f.Remove(2, 8), ErrNotMapped)
	require.Equal(t, uint64(2), f.NExtents())
	require.Equal(t, uint64(8), f.Blocks())
}
