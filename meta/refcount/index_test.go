package refcount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdjustSharesUnsharedRange(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Adjust(10, 5, 1))
	require.Equal(t, uint32(2), ix.Refcount(10))
	require.Equal(t, uint32(2), ix.Refcount(14))
	require.Equal(t, uint32(1), ix.Refcount(15))
	require.Equal(t, uint64(5), ix.SharedBlocks())
}

func TestAdjustSplitsAtBoundaries(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Adjust(0, 10, 1))
	require.NoError(t, ix.Adjust(3, 4, 1))

	require.Equal(t, uint32(2), ix.Refcount(2))
	require.Equal(t, uint32(3), ix.Refcount(3))
	require.Equal(t, uint32(3), ix.Refcount(6))
	require.Equal(t, uint32(2), ix.Refcount(7))
	require.Equal(t, uint64(10), ix.SharedBlocks())
}

func TestAdjustDecrementBackToImplicit(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Adjust(0, 10, 1))
	require.NoError(t, ix.Adjust(0, 10, -1))
	require.Zero(t, ix.SharedBlocks())
	require.Equal(t, uint32(1), ix.Refcount(5))
}

func TestAdjustDecrementMergesNeighbors(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Adjust(0, 10, 1))
	require.NoError(t, ix.Adjust(3, 4, 1))
	require.NoError(t, ix.Adjust(3, 4, -1))

	// Back to one uniform refs=2 record.
	require.Equal(t, uint64(10), ix.SharedBlocks())
	require.Len(t, ix.records, 1)
}

func TestAdjustUnderflowAppliesNothing(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Adjust(0, 4, 1))
	require.ErrorIs(t, ix.Adjust(2, 4, -1), ErrUnderflow)
	require.Equal(t, uint64(4), ix.SharedBlocks())
	require.Equal(t, uint32(2), ix.Refcount(3))
}

func TestAdjustBoundedHonorsCap(t *testing.T) {
	ix := NewIndex()
	ix.SetMaxAdjustPerStep(3)
	n, err := ix.AdjustBounded(0, 10, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
	require.Equal(t, uint64(3), ix.SharedBlocks())
}

func TestSharesAny(t *testing.T) {
	ix := NewIndex()
	require.False(t, ix.SharesAny(0, 100))
	require.NoError(t, ix.Adjust(40, 5, 1))
	require.True(t, ix.SharesAny(0, 100))
	require.True(t, ix.SharesAny(44, 1))
	require.False(t, ix.SharesAny(45, 10))
}
