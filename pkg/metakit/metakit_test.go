package metakit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/imeta"
	"github.com/joshuapare/metakit/meta/inode"
	"github.com/joshuapare/metakit/meta/swapext"
	"github.com/joshuapare/metakit/meta/txn"
)

func testFS(t *testing.T) (*FS, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facade.img")
	fs, err := Create(path, Geometry{DBlocks: 256, LogBlocks: 512}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs, path
}

// seedFile commits an inode whose data fork holds ms, charging the block
// and inode counters the way a real allocation would.
func seedFile(t *testing.T, img *meta.Image, ino uint64, charge bool, ms ...bmap.Mapping) {
	t.Helper()
	i := inode.New(ino, 0o100644)
	var blocks uint64
	for _, m := range ms {
		require.NoError(t, i.Data.Insert(m))
		blocks += m.BlockCount
	}
	i.NBlocks = blocks
	i.Size = blocks * uint64(img.BlockSize())

	reserve := blocks
	if !charge {
		reserve = 0
	}
	tx, err := txn.Alloc(img, txn.ResWrite, reserve, 0)
	require.NoError(t, err)
	ii := tx.JoinInode(i)
	tx.LogInode(ii, txn.LogCore|txn.LogData|txn.LogAttr)
	if charge && blocks > 0 {
		tx.ModCounter(txn.CntBlockResUsed, int64(blocks))
	}
	tx.ModCounter(txn.CntICount, 1)
	tx.ModCounter(txn.CntIFree, -1)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestCreateMountsConsistent(t *testing.T) {
	fs, _ := testFS(t)

	require.NoError(t, fs.Check())
	st := fs.Stats()
	require.Equal(t, uint64(256), st.DBlocks)
	require.Equal(t, uint64(254), st.FDBlocks) // superblock + inode table
	require.Equal(t, st.FDBlocks, fs.FreeSpace().TotalFree())
	require.Zero(t, st.ICount)
}

func TestMountWalkRebuildsIndexes(t *testing.T) {
	fs, path := testFS(t)
	seedFile(t, fs.Image(), 1, true, bmap.Mapping{StartOff: 0, StartBlock: 10, BlockCount: 4})
	seedFile(t, fs.Image(), 2, true, bmap.Mapping{StartOff: 0, StartBlock: 50, BlockCount: 4})
	require.NoError(t, fs.Close())

	fs, err := Open(path, Options{})
	require.NoError(t, err)
	defer fs.Close()

	r, ok := fs.RMap().Lookup(10)
	require.True(t, ok)
	require.Equal(t, uint64(1), r.Owner)
	r, ok = fs.RMap().Lookup(50)
	require.True(t, ok)
	require.Equal(t, uint64(2), r.Owner)

	require.False(t, fs.FreeSpace().Contains(10, 4))
	require.False(t, fs.FreeSpace().Contains(50, 1))
	require.True(t, fs.FreeSpace().Contains(100, 20))
	require.Equal(t, fs.Image().Super().FDBlocks(), fs.FreeSpace().TotalFree())
	require.NoError(t, fs.Check())
}

func TestMountIndexesSharedBlocks(t *testing.T) {
	fs, path := testFS(t)
	m := bmap.Mapping{StartOff: 0, StartBlock: 10, BlockCount: 4}
	seedFile(t, fs.Image(), 1, true, m)
	// A reflinked clone maps the same physical range; the blocks are
	// charged only once.
	seedFile(t, fs.Image(), 2, false, m)
	require.NoError(t, fs.Close())

	fs, err := Open(path, Options{})
	require.NoError(t, err)
	defer fs.Close()

	require.True(t, fs.Refcount().SharesAny(10, 4))
	require.Equal(t, uint32(2), fs.Refcount().Refcount(11))
	require.Equal(t, uint64(4), fs.Stats().SharedBlocks)
	require.NoError(t, fs.Check())
}

func TestMountRejectsForkOverFixedMetadata(t *testing.T) {
	fs, path := testFS(t)
	// Block 1 is the inode table.
	seedFile(t, fs.Image(), 1, false, bmap.Mapping{StartOff: 0, StartBlock: 1, BlockCount: 2})
	require.NoError(t, fs.Close())

	_, err := Open(path, Options{})
	require.ErrorIs(t, err, ErrInconsistent)
}

func TestRunSwapThroughFacade(t *testing.T) {
	fs, path := testFS(t)
	seedFile(t, fs.Image(), 1, true, bmap.Mapping{StartOff: 0, StartBlock: 10, BlockCount: 4})
	seedFile(t, fs.Image(), 2, true, bmap.Mapping{StartOff: 0, StartBlock: 50, BlockCount: 4})
	require.NoError(t, fs.Close())

	fs, err := Open(path, Options{})
	require.NoError(t, err)
	defer fs.Close()

	est, err := fs.RunSwap(context.Background(), swapext.Request{Ino1: 1, Ino2: 2, Count: 4})
	require.NoError(t, err)
	require.Equal(t, uint64(4), est.Blocks1)

	r, ok := fs.RMap().Lookup(10)
	require.True(t, ok)
	require.Equal(t, uint64(2), r.Owner)

	got, err := inode.Load(fs.Image(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(50), got.Data.Extents[0].StartBlock)

	// A swap moves ownership, not space: the image stays consistent.
	require.NoError(t, fs.Check())
}

func TestRegistryLifecycle(t *testing.T) {
	fs, path := testFS(t)
	ctx := context.Background()

	require.NoError(t, fs.InitRegistry(ctx))
	require.ErrorIs(t, fs.InitRegistry(ctx), ErrHasRegistry)

	ino, err := fs.CreateMetaInode(ctx, "rtbitmap", 0o100600)
	require.NoError(t, err)
	got, err := fs.Registry().Lookup("rtbitmap")
	require.NoError(t, err)
	require.Equal(t, ino, got)
	require.NoError(t, fs.Check())

	// The registry block and inode survive a remount.
	require.NoError(t, fs.Close())
	fs, err = Open(path, Options{})
	require.NoError(t, err)
	defer fs.Close()
	got, err = fs.Registry().Lookup("rtbitmap")
	require.NoError(t, err)
	require.Equal(t, ino, got)
	require.NoError(t, fs.Check())

	require.NoError(t, fs.RemoveMetaInode(ctx, "rtbitmap"))
	_, err = fs.Registry().Lookup("rtbitmap")
	require.ErrorIs(t, err, imeta.ErrNotFound)
	require.Zero(t, fs.Stats().ICount)
	require.NoError(t, fs.Check())
}

func TestRemoveMetaInodeRefusesHeldInode(t *testing.T) {
	fs, _ := testFS(t)
	ctx := context.Background()

	require.NoError(t, fs.InitRegistry(ctx))
	ino, err := fs.CreateMetaInode(ctx, "fsshadow", 0o100600)
	require.NoError(t, err)

	ip, err := fs.Cache().Get(ino)
	require.NoError(t, err)
	require.ErrorIs(t, fs.RemoveMetaInode(ctx, "fsshadow"), inode.ErrBusy)

	fs.Cache().Release(ip)
	require.NoError(t, fs.RemoveMetaInode(ctx, "fsshadow"))
}

func TestCheckFlagsCounterDrift(t *testing.T) {
	fs, _ := testFS(t)

	sb := fs.Image().Super()
	sb.SetICount(5)
	sb.Rechecksum()
	require.ErrorIs(t, fs.Check(), ErrInconsistent)
}
