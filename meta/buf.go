package meta

import "fmt"

// Buf is a private in-memory copy of a contiguous block range, read from
// the image on first Get. Mutations happen in the copy; nothing reaches the
// image until a committing transaction writes the buffer back. That gap is
// what makes Cancel all-or-nothing at the image level: a cancelled
// transaction just drops its buffers and the on-image bytes were never
// touched.
//
// A Buf is exclusively owned by whoever holds a reference; the cache hands
// the same Buf back to re-Gets of the same block so a transaction touching
// a block twice sees its own pending mutations.
type Buf struct {
	img   *Image
	blkno uint64
	count uint64
	off   int // byte offset in the image

	// Data is the mutable private copy, count blocks long.
	Data []byte

	refs  int
	stale bool
	owner any // transaction exclusivity marker, managed by meta/txn
}

// Owner returns the current exclusivity marker, nil when unowned.
func (b *Buf) Owner() any { return b.owner }

// SetOwner claims the buffer for owner. Claiming a buffer owned by someone
// else is a fatal programming error: conflicting ownership must be
// prevented by lock acquisition above this layer.
func (b *Buf) SetOwner(owner any) {
	if b.owner != nil && b.owner != owner {
		panic(fmt.Sprintf("meta: block %d already owned by another transaction", b.blkno))
	}
	b.owner = owner
}

// ClearOwner releases the exclusivity marker.
func (b *Buf) ClearOwner() { b.owner = nil }

// Blkno returns the first block of the range.
func (b *Buf) Blkno() uint64 { return b.blkno }

// Count returns the block count of the range.
func (b *Buf) Count() uint64 { return b.count }

// Stale reports whether the buffer was marked stale.
func (b *Buf) Stale() bool { return b.stale }

// Get returns the buffer covering [blkno, blkno+count), reading a private
// copy from the image on first use. Repeated Gets of the same block return
// the same buffer with its reference count bumped; asking for a different
// count at the same block is a fatal programming error.
func (img *Image) Get(blkno, count uint64) (*Buf, error) {
	off, err := img.blockOff(blkno, count)
	if err != nil {
		return nil, err
	}

	img.mu.Lock()
	defer img.mu.Unlock()

	if b, ok := img.bufs[blkno]; ok {
		if b.count != count {
			panic(fmt.Sprintf("meta: block %d cached with count %d, requested %d", blkno, b.count, count))
		}
		b.refs++
		return b, nil
	}

	size := int(count) * img.BlockSize()
	b := &Buf{
		img:   img,
		blkno: blkno,
		count: count,
		off:   off,
		Data:  make([]byte, size),
		refs:  1,
	}
	copy(b.Data, img.data[off:off+size])
	img.bufs[blkno] = b
	return b, nil
}

// Release drops one reference. The last release removes the buffer from
// the cache; a later Get rereads the image bytes.
func (img *Image) Release(b *Buf) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if b.refs <= 0 {
		panic(fmt.Sprintf("meta: release of block %d with %d refs", b.blkno, b.refs))
	}
	b.refs--
	if b.refs == 0 {
		delete(img.bufs, b.blkno)
	}
}

// MarkStale flags the buffer as dead: its contents must never be written
// back. Used when the blocks it covers are being freed.
func (img *Image) MarkStale(b *Buf) {
	img.mu.Lock()
	defer img.mu.Unlock()
	b.stale = true
}

// WriteBack copies b.Data[first:last+1] into the image and hands the range
// to the dirty tracker. Stale buffers are skipped. Called only from the
// transaction commit path.
func (img *Image) WriteBack(b *Buf, first, last int) error {
	if b.stale {
		return nil
	}
	if first < 0 || last >= len(b.Data) || first > last {
		return fmt.Errorf("%w: write-back range [%d,%d] of block %d (%d bytes)", ErrCorrupt, first, last, b.blkno, len(b.Data))
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.data == nil {
		return fmt.Errorf("meta: write-back of block %d on closed image", b.blkno)
	}
	copy(img.data[b.off+first:b.off+last+1], b.Data[first:last+1])
	img.tracker.Add(b.off+first, last-first+1)
	return nil
}

// Invalidate discards the buffer's private copy so the next Get rereads
// the on-image bytes. Called when cancelling a transaction that dirtied
// the buffer.
func (img *Image) Invalidate(b *Buf) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if cached, ok := img.bufs[b.blkno]; ok && cached == b {
		delete(img.bufs, b.blkno)
	}
	b.refs = 0
}
