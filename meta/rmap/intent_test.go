package rmap

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
	path := filepath.Join(t.TempDir(), "rmap.img")
	img, err := meta.Create(path, meta.Geometry{DBlocks: 256, LogBlocks: 512}, meta.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestUpdateIntentMapThenUnmap(t *testing.T) {
	img := testImage(t)
	ix := NewIndex()
	rec := Record{StartBlock: 64, BlockCount: 8, Owner: 42, StartOff: 100}

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(ix, OpMap, rec))
	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, 1, ix.Len())

	tx, err = txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(ix, OpUnmap, rec))
	require.NoError(t, tx.Commit(context.Background()))
	require.Zero(t, ix.Len())
}

func TestUpdateIntentSingleStep(t *testing.T) {
	img := testImage(t)
	ix := NewIndex()
	it := NewUpdateIntent(ix, OpMap, Record{StartBlock: 0, BlockCount: 4, Owner: 1})
	require.Equal(t, uint64(1), it.RemainingSize())

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(it)
	require.NoError(t, tx.Commit(context.Background()))
	require.Zero(t, it.RemainingSize())
	require.Equal(t, 1, ix.OpsRecorded())
}

func TestUpdateIntentConflictAbortsChain(t *testing.T) {
	img := testImage(t)
	ix := NewIndex()
	require.NoError(t, ix.Map(Record{StartBlock: 64, BlockCount: 8, Owner: 1}))

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(ix, OpMap, Record{StartBlock: 66, BlockCount: 4, Owner: 2}))
	require.ErrorIs(t, tx.Commit(context.Background()), ErrExists)
	require.Equal(t, 1, ix.Len())
}

func TestUpdateIntentCancelLeavesIndexAlone(t *testing.T) {
	img := testImage(t)
	ix := NewIndex()

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(ix, OpMap, Record{StartBlock: 0, BlockCount: 4, Owner: 1}))
	tx.Cancel()
	require.Zero(t, ix.Len())
}
