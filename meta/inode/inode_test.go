package inode

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/txn"
)

func testImage(t *testing.T) *meta.Image {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inode.img")
	img, err := meta.Create(path, meta.Geometry{DBlocks: 256, LogBlocks: 512}, meta.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

func commitInode(t *testing.T, img *meta.Image, i *Inode, fields txn.InodeFields) {
	t.Helper()
	tx, err := txn.Alloc(img, txn.ResWrite, 0, 0)
	require.NoError(t, err)
	ii := tx.JoinInode(i)
	tx.LogInode(ii, fields)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestInodeRoundTrip(t *testing.T) {
	img := testImage(t)

	i := New(5, 0o100644)
	i.Size = 40960
	i.NBlocks = 10
	i.Gen = 3
	i.Flags = format.InoFlagReflink
	require.NoError(t, i.Data.Insert(bmap.Mapping{StartOff: 0, StartBlock: 100, BlockCount: 6}))
	require.NoError(t, i.Data.Insert(bmap.Mapping{StartOff: 8, StartBlock: 120, BlockCount: 4, Unwritten: true}))
	commitInode(t, img, i, txn.LogCore|txn.LogData)

	got, err := Load(img, 5)
	require.NoError(t, err)
	require.Equal(t, i.Mode, got.Mode)
	require.Equal(t, i.Size, got.Size)
	require.Equal(t, i.NBlocks, got.NBlocks)
	require.Equal(t, i.Gen, got.Gen)
	require.True(t, got.HasReflink())
	require.Equal(t, uint8(format.ForkFormatExtents), got.Data.Format)
	require.Equal(t, i.Data.Extents, got.Data.Extents)
}

func TestLoadUnclaimedSlotFails(t *testing.T) {
	img := testImage(t)
	_, err := Load(img, 3)
	require.ErrorIs(t, err, ErrBadInode)
}

func TestLoadOutsideTableFails(t *testing.T) {
	img := testImage(t)
	_, err := Load(img, 1<<20)
	require.ErrorIs(t, err, ErrBadNumber)
}

func TestUncommittedChangesInvisible(t *testing.T) {
	img := testImage(t)
	i := New(1, 0o100644)
	commitInode(t, img, i, txn.LogCore|txn.LogData|txn.LogAttr)

	tx, err := txn.Alloc(img, txn.ResWrite, 0, 0)
	require.NoError(t, err)
	ii := tx.JoinInode(i)
	i.Size = 999
	tx.LogInode(ii, txn.LogCore)
	tx.Cancel()

	got, err := Load(img, 1)
	require.NoError(t, err)
	require.Zero(t, got.Size)
}

func TestForkSpillsToOverflowChain(t *testing.T) {
	img := testImage(t)
	i := New(2, 0o100644)
	i.ExtChain = []uint64{200}
	for j := 0; j < maxInlineDataExtents+3; j++ {
		require.NoError(t, i.Data.Insert(bmap.Mapping{
			StartOff:   uint64(j * 4),
			StartBlock: uint64(100 + j*8),
			BlockCount: 2,
		}))
	}
	commitInode(t, img, i, txn.LogCore|txn.LogData)
	require.Equal(t, uint8(format.ForkFormatChained), i.Data.Format)

	got, err := Load(img, 2)
	require.NoError(t, err)
	require.Equal(t, uint8(format.ForkFormatChained), got.Data.Format)
	require.Equal(t, i.Data.Extents, got.Data.Extents)
	require.Equal(t, []uint64{200}, got.ExtChain)
}

func TestSpillWithoutChainFails(t *testing.T) {
	img := testImage(t)
	i := New(2, 0o100644)
	for j := 0; j < maxInlineDataExtents+1; j++ {
		require.NoError(t, i.Data.Insert(bmap.Mapping{
			StartOff:   uint64(j * 4),
			StartBlock: uint64(100 + j*8),
			BlockCount: 2,
		}))
	}

	tx, err := txn.Alloc(img, txn.ResWrite, 0, 0)
	require.NoError(t, err)
	ii := tx.JoinInode(i)
	tx.LogInode(ii, txn.LogCore|txn.LogData)
	require.ErrorIs(t, tx.Commit(context.Background()), ErrOverflowShort)
}

func TestInlineDataRoundTrip(t *testing.T) {
	img := testImage(t)
	i := New(4, 0o100644)
	i.Data.Format = format.ForkFormatInline
	i.Data.InlineData = []byte("small payload")
	i.Size = uint64(len(i.Data.InlineData))
	commitInode(t, img, i, txn.LogCore|txn.LogData)

	got, err := Load(img, 4)
	require.NoError(t, err)
	require.Equal(t, uint8(format.ForkFormatInline), got.Data.Format)
	require.Equal(t, []byte("small payload"), got.Data.InlineData)
}

func TestTryShrinkInline(t *testing.T) {
	img := testImage(t)
	i := New(2, 0o100644)
	i.ExtChain = []uint64{200}
	// Offset-contiguous but physically scattered: nothing merges.
	for j := 0; j < maxInlineDataExtents+3; j++ {
		require.NoError(t, i.Data.Insert(bmap.Mapping{
			StartOff:   uint64(j * 2),
			StartBlock: uint64(100 + j*8),
			BlockCount: 2,
		}))
	}
	commitInode(t, img, i, txn.LogCore|txn.LogData)

	// Still too fragmented: nothing to shrink.
	freed, changed := i.TryShrinkInline(img)
	require.False(t, changed)
	require.Empty(t, freed)

	require.NoError(t, i.Data.Remove(0, uint64((maxInlineDataExtents+1)*2)))
	freed, changed = i.TryShrinkInline(img)
	require.True(t, changed)
	require.Equal(t, []uint64{200}, freed)
	require.Equal(t, uint8(format.ForkFormatExtents), i.Data.Format)
	commitInode(t, img, i, txn.LogCore|txn.LogData)

	got, err := Load(img, 2)
	require.NoError(t, err)
	require.Equal(t, uint8(format.ForkFormatExtents), got.Data.Format)
	require.Equal(t, i.Data.Extents, got.Data.Extents)
	require.Empty(t, got.ExtChain)
}

func TestFindFree(t *testing.T) {
	img := testImage(t)
	ino, err := FindFree(img)
	require.NoError(t, err)
	require.Equal(t, uint64(0), ino)

	commitInode(t, img, New(0, 0o100644), txn.LogCore|txn.LogData)
	ino, err = FindFree(img)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ino)
}
