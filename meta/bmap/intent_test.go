package bmap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/rmap"
	"github.com/joshuapare/metakit/meta/txn"
)

func testImage(t *testing.T) *meta.Image {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bmap.img")
	img, err := meta.Create(path, meta.Geometry{DBlocks: 256, LogBlocks: 512}, meta.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestUpdateIntentMapNestsRmapEdit(t *testing.T) {
	img := testImage(t)
	ix := rmap.NewIndex()
	f := &Fork{Format: format.ForkFormatExtents}
	m := Mapping{StartOff: 10, StartBlock: 64, BlockCount: 8}

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(f, OpMap, m, 42, false, ix))
	require.NoError(t, tx.Commit(context.Background()))

	require.Equal(t, uint64(1), f.NExtents())
	r, ok := ix.Lookup(64)
	require.True(t, ok)
	require.Equal(t, uint64(42), r.Owner)
	require.Equal(t, uint64(10), r.StartOff)
	require.Equal(t, rmap.ForkData, r.Fork)
}

func TestUpdateIntentUnmapMirrorsRmap(t *testing.T) {
	img := testImage(t)
	ix := rmap.NewIndex()
	f := &Fork{Format: format.ForkFormatExtents}
	m := Mapping{StartOff: 10, StartBlock: 64, BlockCount: 8}

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(f, OpMap, m, 42, false, ix))
	require.NoError(t, tx.Commit(context.Background()))

	tx, err = txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(f, OpUnmap, m, 42, false, ix))
	require.NoError(t, tx.Commit(context.Background()))

	require.Zero(t, f.NExtents())
	require.Zero(t, ix.Len())
}

func TestUpdateIntentWithoutReverseIndex(t *testing.T) {
	img := testImage(t)
	f := &Fork{Format: format.ForkFormatExtents}

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(f, OpMap, Mapping{StartOff: 0, StartBlock: 8, BlockCount: 2}, 7, false, nil))
	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, uint64(1), f.NExtents())
}

func TestUpdateIntentFailureAbortsNestedWork(t *testing.T) {
	img := testImage(t)
	ix := rmap.NewIndex()
	f := &Fork{Format: format.ForkFormatExtents}
	require.NoError(t, f.Insert(Mapping{StartOff: 0, StartBlock: 8, BlockCount: 4}))

	tx, err := txn.Alloc(img, txn.ResItruncate, 0, 0)
	require.NoError(t, err)
	tx.Defer(NewUpdateIntent(f, OpMap, Mapping{StartOff: 2, StartBlock: 100, BlockCount: 2}, 7, false, ix))
	require.ErrorIs(t, tx.Commit(context.Background()), ErrOverlap)

	// The failing fork edit never queued a reverse-mapping edit.
	require.Zero(t, ix.Len())
}
