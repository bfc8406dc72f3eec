package alloc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/txn"
)

func testImage(t *testing.T) *meta.Image {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alloc.img")
	img, err := meta.Create(path, meta.Geometry{DBlocks: 256, LogBlocks: 512}, meta.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

// Freeing a 5-block extent through a freelist constrained to 2 blocks per
// step must take exactly three finishes (2+2+1) across rolled
// sub-transactions and leave nothing still-to-free.
func TestExtentFreeBoundedSteps(t *testing.T) {
	img := testImage(t)
	fs := NewFreeSpace()
	fs.SetMaxFreePerStep(2)

	free := img.Super().FDBlocks()

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	it := NewExtentFreeIntent(fs, 40, 5, 7)
	tx.Defer(it)
	require.NoError(t, tx.Commit(context.Background()))

	require.Zero(t, it.RemainingSize())
	require.Equal(t, 3, fs.Stats().FreeCalls)
	require.True(t, fs.Contains(40, 5))

	// The counter credit followed each step's sub-transaction.
	require.Equal(t, free+5, img.Super().FDBlocks())
}

func TestExtentFreeSingleStepWhenUnbounded(t *testing.T) {
	img := testImage(t)
	fs := NewFreeSpace()

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewExtentFreeIntent(fs, 10, 8, 3))
	require.NoError(t, tx.Commit(context.Background()))

	require.Equal(t, 1, fs.Stats().FreeCalls)
	require.True(t, fs.Contains(10, 8))
}

func TestExtentFreeCancelTouchesNothing(t *testing.T) {
	img := testImage(t)
	fs := NewFreeSpace()
	free := img.Super().FDBlocks()

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewExtentFreeIntent(fs, 10, 8, 3))
	tx.Cancel()

	require.Zero(t, fs.TotalFree())
	require.Equal(t, free, img.Super().FDBlocks())
}

func TestExtentFreeDoubleFreeAbortsChain(t *testing.T) {
	img := testImage(t)
	fs := NewFreeSpace()
	fs.AddRegion(10, 4) // overlaps the intent below

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewExtentFreeIntent(fs, 12, 4, 3))
	err = tx.Commit(context.Background())
	require.ErrorIs(t, err, ErrNotFree)
}

func TestExtentFreeLoggedMode(t *testing.T) {
	img := testImage(t)
	fs := NewFreeSpace()

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.EnableIntentLog()
	tx.Defer(NewExtentFreeIntent(fs, 20, 6, 3))
	require.NoError(t, tx.Commit(context.Background()))

	// Create-before-mutate, done-after-finish: nothing left pending.
	require.Empty(t, img.Log().Pending())
}
