package swapext

import (
	"context"
	"fmt"

	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/alloc"
	"github.com/joshuapare/metakit/meta/inode"
	"github.com/joshuapare/metakit/meta/refcount"
	"github.com/joshuapare/metakit/meta/rmap"
	"github.com/joshuapare/metakit/meta/txn"
)

// Request describes one extent-swap operation.
type Request struct {
	Ino1, Ino2 uint64

	// Off1/Off2 are the starting logical blocks in each file; Count is
	// the block length of both ranges.
	Off1, Off2 uint64
	Count      uint64

	// Attr selects the attribute fork instead of the data fork.
	Attr bool

	// Size1/Size2, when non-nil, are applied as the files' sizes once the
	// swap completes (data fork only).
	Size1, Size2 *uint64

	Cleanup Cleanup
	Flags   Flags
}

// Swapper binds the mount-wide collaborators a swap runs against.
// The reverse-mapping and refcount indexes and the free-space index may
// be nil on images that do not keep them.
type Swapper struct {
	Img       *meta.Image
	Cache     *inode.Cache
	RMap      *rmap.Index
	Refcount  *refcount.Index
	FreeSpace *alloc.FreeSpace
}

// newIntent builds the state machine for req over the two in-core inodes.
func (sw *Swapper) newIntent(ip1, ip2 *inode.Inode, req Request) *Intent {
	return &Intent{
		ip1:     ip1,
		ip2:     ip2,
		attr:    req.Attr,
		off1:    req.Off1,
		off2:    req.Off2,
		count:   req.Count,
		size1:   req.Size1,
		size2:   req.Size2,
		cleanup: req.Cleanup,
		flags:   req.Flags,
		rindex:  sw.RMap,
		rcindex: sw.Refcount,
		fspace:  sw.FreeSpace,
	}
}

// hold pins both inodes with active references, which stands in for the
// flush-and-lock the swap contract requires of its caller.
func (sw *Swapper) hold(req Request) (ip1, ip2 *inode.Inode, release func(), err error) {
	if req.Count == 0 || req.Ino1 == req.Ino2 {
		return nil, nil, nil, fmt.Errorf("%w: inodes %d/%d count %d", ErrBadRange, req.Ino1, req.Ino2, req.Count)
	}
	ip1, err = sw.Cache.Get(req.Ino1)
	if err != nil {
		return nil, nil, nil, err
	}
	ip2, err = sw.Cache.Get(req.Ino2)
	if err != nil {
		sw.Cache.Release(ip1)
		return nil, nil, nil, err
	}
	release = func() {
		sw.Cache.Release(ip2)
		sw.Cache.Release(ip1)
	}

	for _, ip := range []*inode.Inode{ip1, ip2} {
		f := &ip.Data
		if req.Attr {
			f = &ip.Attr
		}
		if !f.HasMappings() {
			release()
			return nil, nil, nil, fmt.Errorf("%w: inode %d format %d", ErrBadFork, ip.Ino, f.Format)
		}
	}
	return ip1, ip2, release, nil
}

// Estimate runs the non-mutating lockstep walk for req.
func (sw *Swapper) Estimate(req Request) (Estimate, error) {
	ip1, ip2, release, err := sw.hold(req)
	if err != nil {
		return Estimate{}, err
	}
	defer release()
	return sw.newIntent(ip1, ip2, req).estimate(sw.Img.Super().HasLargeExtents())
}

// Swap estimates, reserves, and runs req to completion.
func (sw *Swapper) Swap(ctx context.Context, req Request) (Estimate, error) {
	ip1, ip2, release, err := sw.hold(req)
	if err != nil {
		return Estimate{}, err
	}
	defer release()

	it := sw.newIntent(ip1, ip2, req)
	est, err := it.estimate(sw.Img.Super().HasLargeExtents())
	if err != nil {
		return est, err
	}
	// The counter widening is applied by the intent's first finish step,
	// where the inode core is joined and logged; a failure from here on
	// leaves the in-core flags untouched.
	it.upgrade1 = est.Upgrade1
	it.upgrade2 = est.Upgrade2

	tx, err := txn.Alloc(sw.Img, txn.ResSwapExt, 0, 0)
	if err != nil {
		return est, err
	}
	if req.Flags&FlagLogged != 0 {
		tx.EnableIntentLog()
	}
	tx.Defer(it)
	if err := tx.Commit(ctx); err != nil {
		return est, err
	}
	return est, nil
}
