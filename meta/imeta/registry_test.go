package imeta

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/inode"
	"github.com/joshuapare/metakit/meta/txn"
)

const registryBlock = 100

func testRegistry(t *testing.T) (*meta.Image, *Registry) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imeta.img")
	img, err := meta.Create(path, meta.Geometry{DBlocks: 256, LogBlocks: 512}, meta.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })

	r := Open(img)
	tx, err := txn.Alloc(img, txn.ResImeta, 1, 0)
	require.NoError(t, err)
	require.NoError(t, r.Init(tx, registryBlock))
	tx.ModCounter(txn.CntBlockResUsed, 1)
	require.NoError(t, tx.Commit(context.Background()))
	return img, r
}

func TestCreateLookupRoundTripInOneTxn(t *testing.T) {
	img, r := testRegistry(t)

	tx, err := txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	ip, err := r.Create(tx, "rtbitmap", 0o100600)
	require.NoError(t, err)

	// Pending edits are visible before commit.
	ino, err := r.Lookup("rtbitmap")
	require.NoError(t, err)
	require.Equal(t, ip.Ino, ino)
	require.NoError(t, tx.Commit(context.Background()))

	// And after.
	ino, err = r.Lookup("rtbitmap")
	require.NoError(t, err)
	require.Equal(t, ip.Ino, ino)

	got, err := inode.Load(img, ino)
	require.NoError(t, err)
	require.Equal(t, uint16(0o100600), got.Mode)
	require.Equal(t, uint64(1), img.Super().ICount())
}

func TestCreateCancelLeavesNoTrace(t *testing.T) {
	img, r := testRegistry(t)
	icount := img.Super().ICount()
	ifree := img.Super().IFree()

	tx, err := txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	ip, err := r.Create(tx, "rtsummary", 0o100600)
	require.NoError(t, err)
	tx.Cancel()

	_, err = r.Lookup("rtsummary")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = inode.Load(img, ip.Ino)
	require.ErrorIs(t, err, inode.ErrBadInode)
	require.Equal(t, icount, img.Super().ICount())
	require.Equal(t, ifree, img.Super().IFree())
}

func TestCreateDuplicateName(t *testing.T) {
	img, r := testRegistry(t)

	tx, err := txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	_, err = r.Create(tx, "fsshadow", 0o100600)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	tx, err = txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	_, err = r.Create(tx, "fsshadow", 0o100600)
	require.ErrorIs(t, err, ErrExists)
	tx.Cancel()
}

func TestUnlinkFreesSlotAndCounters(t *testing.T) {
	img, r := testRegistry(t)

	tx, err := txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	ip, err := r.Create(tx, "fsshadow", 0o100600)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	tx, err = txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	ino, err := r.Unlink(tx, "fsshadow")
	require.NoError(t, err)
	require.Equal(t, ip.Ino, ino)
	require.NoError(t, tx.Commit(context.Background()))

	_, err = r.Lookup("fsshadow")
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, img.Super().ICount())

	names, err := r.Names()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestLookupWithoutRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.img")
	img, err := meta.Create(path, meta.Geometry{DBlocks: 64, LogBlocks: 64}, meta.Options{})
	require.NoError(t, err)
	defer img.Close()

	_, err = Open(img).Lookup("anything")
	require.ErrorIs(t, err, ErrNoRegistry)
}

func TestCreateValidatesName(t *testing.T) {
	img, r := testRegistry(t)
	tx, err := txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	defer tx.Cancel()

	_, err = r.Create(tx, "", 0)
	require.ErrorIs(t, err, ErrBadName)
	_, err = r.Create(tx, string(make([]byte, 33)), 0)
	require.ErrorIs(t, err, ErrBadName)
}

// Two registry edits in one transaction re-acquire the registry block; the
// commit must leave no lingering reference pinning it in the buffer layer.
func TestTwoEditsOneTxnReleaseRegistryBuffer(t *testing.T) {
	img, r := testRegistry(t)
	bs := int64(img.BlockSize())

	tx, err := txn.Alloc(img, txn.ResImeta, 0, 0)
	require.NoError(t, err)
	_, err = r.Create(tx, "rtbitmap", 0o100600)
	require.NoError(t, err)
	_, err = r.Unlink(tx, "rtbitmap")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	// A pinned stale copy of the registry block would mask this direct
	// image edit from the next Get.
	pad := img.Bytes()[registryBlock*bs+bs-1]
	img.Bytes()[registryBlock*bs+bs-1] = pad ^ 0xFF
	b, err := img.Get(registryBlock, 1)
	require.NoError(t, err)
	require.Equal(t, pad^0xFF, b.Data[bs-1])
	img.Release(b)
	img.Bytes()[registryBlock*bs+bs-1] = pad
}
