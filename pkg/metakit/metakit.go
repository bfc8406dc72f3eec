package metakit

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/alloc"
	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/imeta"
	"github.com/joshuapare/metakit/meta/inode"
	"github.com/joshuapare/metakit/meta/refcount"
	"github.com/joshuapare/metakit/meta/rmap"
	"github.com/joshuapare/metakit/meta/swapext"
	"github.com/joshuapare/metakit/meta/txn"
)

// FS is a mounted image: the mapped file plus the in-memory indexes the
// mount walk rebuilt from it. All mutating entry points run through
// transactions, so a crash between calls loses nothing committed.
type FS struct {
	img     *meta.Image
	cache   *inode.Cache
	fspace  *alloc.FreeSpace
	rindex  *rmap.Index
	rcindex *refcount.Index
	reg     *imeta.Registry
}

// Open maps the image at path and runs the mount walk.
//
// Example:
//
//	fs, err := metakit.Open("meta.img", metakit.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fs.Close()
func Open(path string, opts Options) (*FS, error) {
	img, err := meta.Open(path, opts.imageOptions())
	if err != nil {
		return nil, err
	}
	fs, err := mount(img, opts)
	if err != nil {
		img.Close()
		return nil, err
	}
	return fs, nil
}

// Create writes a fresh image at path and mounts it.
//
// Example:
//
//	fs, err := metakit.Create("meta.img", metakit.Geometry{
//	    DBlocks:   4096,
//	    LogBlocks: 512,
//	    Label:     "scratch",
//	}, metakit.Options{})
func Create(path string, g Geometry, opts Options) (*FS, error) {
	img, err := meta.Create(path, g, opts.imageOptions())
	if err != nil {
		return nil, err
	}
	fs, err := mount(img, opts)
	if err != nil {
		img.Close()
		return nil, err
	}
	return fs, nil
}

// Close releases the mapping. Committed state is already durable per the
// flush mode; Close is not a hidden commit.
func (fs *FS) Close() error {
	return fs.img.Close()
}

// Image returns the underlying mapped image.
func (fs *FS) Image() *meta.Image { return fs.img }

// Cache returns the in-core inode cache.
func (fs *FS) Cache() *inode.Cache { return fs.cache }

// FreeSpace returns the free-extent index.
func (fs *FS) FreeSpace() *alloc.FreeSpace { return fs.fspace }

// RMap returns the reverse-mapping index.
func (fs *FS) RMap() *rmap.Index { return fs.rindex }

// Refcount returns the block reference-count index.
func (fs *FS) Refcount() *refcount.Index { return fs.rcindex }

// Registry returns the metadata-inode registry handle.
func (fs *FS) Registry() *imeta.Registry { return fs.reg }

// Swapper returns an extent swapper bound to the mount's indexes.
func (fs *FS) Swapper() *swapext.Swapper {
	return &swapext.Swapper{
		Img:       fs.img,
		Cache:     fs.cache,
		RMap:      fs.rindex,
		Refcount:  fs.rcindex,
		FreeSpace: fs.fspace,
	}
}

// EstimateSwap runs the non-mutating lockstep walk for req.
func (fs *FS) EstimateSwap(req swapext.Request) (swapext.Estimate, error) {
	return fs.Swapper().Estimate(req)
}

// RunSwap estimates, reserves, and runs req to completion.
//
// Example:
//
//	est, err := fs.RunSwap(ctx, swapext.Request{
//	    Ino1: 1, Ino2: 2, Count: 16,
//	    Flags: swapext.FlagLogged,
//	})
func (fs *FS) RunSwap(ctx context.Context, req swapext.Request) (swapext.Estimate, error) {
	return fs.Swapper().Swap(ctx, req)
}

// InitRegistry allocates and formats the metadata-inode registry block.
// Fails with ErrHasRegistry when the image already carries one.
func (fs *FS) InitRegistry(ctx context.Context) error {
	if fs.img.Super().ImetaBlock() != format.NullBlock {
		return ErrHasRegistry
	}
	tx, err := txn.Alloc(fs.img, txn.ResImeta, 1, 0)
	if err != nil {
		return err
	}
	blk, err := fs.fspace.Allocate(1)
	if err != nil {
		tx.Cancel()
		return err
	}
	if err := fs.reg.Init(tx, blk); err != nil {
		tx.Cancel()
		fs.fspace.Free(blk, 1)
		return err
	}
	tx.ModCounter(txn.CntBlockResUsed, 1)
	if err := tx.Commit(ctx); err != nil {
		fs.fspace.Free(blk, 1)
		return err
	}
	return nil
}

// CreateMetaInode registers name with a fresh inode and returns its
// number.
func (fs *FS) CreateMetaInode(ctx context.Context, name string, mode uint16) (uint64, error) {
	tx, err := txn.Alloc(fs.img, txn.ResImeta, 0, 0)
	if err != nil {
		return 0, err
	}
	ip, err := fs.reg.Create(tx, name, mode)
	if err != nil {
		tx.Cancel()
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return ip.Ino, nil
}

// RemoveMetaInode unlinks name from the registry and retires its inode.
// Fails with inode.ErrBusy while the inode is held in the cache.
func (fs *FS) RemoveMetaInode(ctx context.Context, name string) error {
	ino, err := fs.reg.Lookup(name)
	if err != nil {
		return err
	}
	if fs.cache.ActiveRefs(ino) > 0 {
		return fmt.Errorf("remove %q: inode %d: %w", name, ino, inode.ErrBusy)
	}

	tx, err := txn.Alloc(fs.img, txn.ResImeta, 0, 0)
	if err != nil {
		return err
	}
	if _, err := fs.reg.Unlink(tx, name); err != nil {
		tx.Cancel()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// The slot write is idempotent; redoing it after a crash between the
	// commit and here is harmless.
	if err := inode.Retire(fs.img, ino); err != nil {
		return err
	}
	return fs.cache.Forget(ino)
}

// mount builds the in-memory state for an opened image.
func mount(img *meta.Image, opts Options) (*FS, error) {
	fs := &FS{
		img:     img,
		cache:   inode.NewCache(img, opts.cacheSize()),
		fspace:  alloc.NewFreeSpace(),
		rindex:  rmap.NewIndex(),
		rcindex: refcount.NewIndex(),
		reg:     imeta.Open(img),
	}
	if err := fs.mountWalk(); err != nil {
		return nil, err
	}
	return fs, nil
}

// mountWalk rebuilds the free-space, reverse-mapping, and refcount
// indexes from the committed on-disk state: fixed structures first, then
// every claimed inode's forks and overflow chains. Whatever no structure
// claims is free.
func (fs *FS) mountWalk() error {
	sb := fs.img.Super()
	used := make([]bool, sb.DBlocks())
	used[0] = true
	for b := uint64(sb.InoBlock()); b < uint64(sb.InoBlock())+uint64(sb.InoBlocks()); b++ {
		used[b] = true
	}
	if blk := sb.ImetaBlock(); blk != format.NullBlock {
		if blk >= sb.DBlocks() {
			return fmt.Errorf("%w: registry block %d outside image", ErrInconsistent, blk)
		}
		used[blk] = true
	}

	perBlock := uint64(fs.img.BlockSize()) / format.InodeSize
	total := uint64(sb.InoBlocks()) * perBlock
	for ino := uint64(0); ino < total; ino++ {
		ip, err := inode.Load(fs.img, ino)
		if errors.Is(err, inode.ErrBadInode) {
			continue
		}
		if err != nil {
			return err
		}
		for _, blk := range ip.ExtChain {
			if blk >= sb.DBlocks() {
				return fmt.Errorf("%w: inode %d chain block %d outside image", ErrInconsistent, ino, blk)
			}
			used[blk] = true
		}
		if err := fs.indexFork(ip, &ip.Data, rmap.ForkData, used); err != nil {
			return err
		}
		if err := fs.indexFork(ip, &ip.Attr, rmap.ForkAttr, used); err != nil {
			return err
		}
	}

	var start, run uint64
	for b := uint64(0); b < sb.DBlocks(); b++ {
		if used[b] {
			if run > 0 {
				fs.fspace.AddRegion(start, run)
				run = 0
			}
			continue
		}
		if run == 0 {
			start = b
		}
		run++
	}
	if run > 0 {
		fs.fspace.AddRegion(start, run)
	}
	return nil
}

// indexFork records one fork's mappings. A mapping another fork already
// owns is a shared range: it goes into the refcount index instead of
// failing the mount, since reflinked clones are expected to collide.
func (fs *FS) indexFork(ip *inode.Inode, f *bmap.Fork, kind rmap.ForkKind, used []bool) error {
	if !f.HasMappings() {
		return nil
	}
	sb := fs.img.Super()
	inoStart := uint64(sb.InoBlock())
	inoEnd := inoStart + uint64(sb.InoBlocks())
	for _, m := range f.Extents {
		if m.StartBlock >= sb.DBlocks() || m.EndBlock() > sb.DBlocks() {
			return fmt.Errorf("%w: inode %d maps [%d,+%d) outside image",
				ErrInconsistent, ip.Ino, m.StartBlock, m.BlockCount)
		}
		overTable := m.StartBlock < inoEnd && m.EndBlock() > inoStart
		overImeta := sb.ImetaBlock() != format.NullBlock &&
			m.StartBlock <= sb.ImetaBlock() && sb.ImetaBlock() < m.EndBlock()
		if m.StartBlock == 0 || overTable || overImeta {
			return fmt.Errorf("%w: inode %d maps [%d,+%d) over fixed metadata",
				ErrInconsistent, ip.Ino, m.StartBlock, m.BlockCount)
		}

		rec := rmap.Record{
			StartBlock: m.StartBlock,
			BlockCount: m.BlockCount,
			Owner:      ip.Ino,
			Fork:       kind,
			StartOff:   m.StartOff,
			Unwritten:  m.Unwritten,
		}
		switch err := fs.rindex.Map(rec); {
		case err == nil:
		case errors.Is(err, rmap.ErrExists):
			if err := fs.rcindex.Adjust(m.StartBlock, m.BlockCount, 1); err != nil {
				return err
			}
		default:
			return err
		}
		for b := m.StartBlock; b < m.EndBlock(); b++ {
			used[b] = true
		}
	}
	return nil
}
