package txn

import (
	"fmt"

	"github.com/joshuapare/metakit/meta"
)

// InodeFields is the dirty-field bitmask for in-core object items.
type InodeFields uint32

const (
	// LogCore marks the inode core fields (mode, nlink, flags, size,
	// nblocks, gen) dirty.
	LogCore InodeFields = 1 << iota

	// LogData marks the data fork's mapping representation dirty.
	LogData

	// LogAttr marks the attribute fork's mapping representation dirty.
	LogAttr
)

// Object is an in-core metadata object an InodeItem can flush: it knows
// how to serialize its dirty fields into its backing buffer on the image.
// meta/inode.Inode is the canonical implementation.
type Object interface {
	// ObjectID identifies the object (the inode number).
	ObjectID() uint64

	// FlushDirty serializes the indicated dirty fields into the object's
	// backing buffer and queues that buffer for write.
	FlushDirty(img *meta.Image, fields InodeFields) error
}

// LogItem is the dirtyable unit attached to a transaction. An item is
// exclusively owned by at most one transaction; ownership is released only
// by that transaction's terminal action.
type LogItem interface {
	// Kind returns the item type tag, "buf" or "inode".
	Kind() string

	// IsDirty reports whether any sub-field has been logged.
	IsDirty() bool

	// flush writes the dirty state to its backing store. Commit path only.
	flush() error

	// release detaches the item. abort discards dirty state instead of
	// leaving it for a writer.
	release(abort bool)
}

// BufItem tracks the dirty portion of one buffer. The dirty range is the
// byte span [first, last] within the buffer; ordered means the whole buffer
// is treated as dirty without field-level granularity.
type BufItem struct {
	tx      *Txn
	buf     *meta.Buf
	first   int
	last    int // first > last means clean
	ordered bool
}

// Kind returns "buf".
func (bi *BufItem) Kind() string { return "buf" }

// Buf returns the backing buffer.
func (bi *BufItem) Buf() *meta.Buf { return bi.buf }

// IsDirty reports whether any range was logged or the item was ordered.
func (bi *BufItem) IsDirty() bool { return bi.ordered || bi.first <= bi.last }

func (bi *BufItem) flush() error {
	if !bi.IsDirty() {
		return nil
	}
	img := bi.tx.img
	if bi.ordered {
		return img.WriteBack(bi.buf, 0, len(bi.buf.Data)-1)
	}
	return img.WriteBack(bi.buf, bi.first, bi.last)
}

func (bi *BufItem) release(abort bool) {
	bi.buf.ClearOwner()
	if abort && bi.IsDirty() {
		// Drop the private copy so the next Get rereads image bytes.
		bi.tx.img.Invalidate(bi.buf)
		return
	}
	bi.tx.img.Release(bi.buf)
}

// resetDirty clears the logged range after a successful flush, for items
// held across a roll.
func (bi *BufItem) resetDirty() {
	bi.first = 1
	bi.last = 0
	bi.ordered = false
}

// InodeItem tracks the dirty fields of one in-core object. The last known
// dirty fields are carried across flush attempts so a failed flush does not
// lose dirty state.
type InodeItem struct {
	tx         *Txn
	obj        Object
	fields     InodeFields
	lastFields InodeFields
}

// Kind returns "inode".
func (ii *InodeItem) Kind() string { return "inode" }

// Object returns the backing in-core object.
func (ii *InodeItem) Object() Object { return ii.obj }

// IsDirty reports whether any field has been logged.
func (ii *InodeItem) IsDirty() bool { return ii.fields|ii.lastFields != 0 }

// Fields returns the accumulated dirty-field mask.
func (ii *InodeItem) Fields() InodeFields { return ii.fields | ii.lastFields }

func (ii *InodeItem) flush() error {
	all := ii.fields | ii.lastFields
	if all == 0 {
		return nil
	}
	if err := ii.obj.FlushDirty(ii.tx.img, all); err != nil {
		// Keep the mask so a later attempt flushes everything again.
		ii.lastFields = all
		ii.fields = 0
		return fmt.Errorf("flush inode %d: %w", ii.obj.ObjectID(), err)
	}
	ii.fields = 0
	ii.lastFields = 0
	return nil
}

func (ii *InodeItem) release(bool) {
	// In-core object items have nothing to unlock here; dirty state not
	// flushed is simply discarded with the item.
}

func (ii *InodeItem) resetDirty() {
	// Deliberately keeps lastFields: a failed roll flush must survive into
	// the successor.
	ii.fields = 0
}

// JoinBuf attaches a buffer to the transaction, creating its log item
// lazily on first join. Every call consumes one Get reference: joining a
// buffer the transaction already holds drops the caller's extra reference
// and returns the existing item, so the item always owns exactly one.
// Joining a buffer owned by another transaction panics.
func (tx *Txn) JoinBuf(b *meta.Buf) *BufItem {
	tx.checkLive("JoinBuf")
	if bi, ok := tx.bufItems[b]; ok {
		tx.img.Release(b)
		return bi
	}
	b.SetOwner(tx)
	bi := &BufItem{tx: tx, buf: b, first: 1, last: 0}
	tx.bufItems[b] = bi
	tx.items = append(tx.items, bi)
	return bi
}

// JoinInode attaches an in-core object, creating its log item lazily on
// first join.
func (tx *Txn) JoinInode(obj Object) *InodeItem {
	tx.checkLive("JoinInode")
	if ii, ok := tx.inodeItems[obj]; ok {
		return ii
	}
	ii := &InodeItem{tx: tx, obj: obj}
	tx.inodeItems[obj] = ii
	tx.items = append(tx.items, ii)
	return ii
}

// Hold marks an item to be carried across Roll: after the predecessor
// commits, the item is re-joined to the successor instead of released.
func (tx *Txn) Hold(item LogItem) {
	tx.checkLive("Hold")
	tx.held[item] = struct{}{}
}

// LogBuf marks bytes [first, last] of the buffer dirty. Ranges from
// repeated calls accumulate; they are never overwritten.
func (tx *Txn) LogBuf(bi *BufItem, first, last int) {
	tx.checkLive("LogBuf")
	if bi.tx != tx {
		panic("txn: LogBuf on item owned by another transaction")
	}
	if first < 0 || last >= len(bi.buf.Data) || first > last {
		panic(fmt.Sprintf("txn: log range [%d,%d] outside buffer of %d bytes", first, last, len(bi.buf.Data)))
	}
	switch {
	case bi.ordered:
		// Whole buffer already dirty.
	case bi.first > bi.last:
		bi.first, bi.last = first, last
	default:
		if first < bi.first {
			bi.first = first
		}
		if last > bi.last {
			bi.last = last
		}
	}
	tx.markDirty()
}

// OrderBuf treats the buffer as fully dirty without field-level
// granularity.
func (tx *Txn) OrderBuf(bi *BufItem) {
	tx.checkLive("OrderBuf")
	if bi.tx != tx {
		panic("txn: OrderBuf on item owned by another transaction")
	}
	bi.ordered = true
	tx.markDirty()
}

// LogInode ORs fields into the item's dirty mask, sticky with any prior
// unflushed attempt.
func (tx *Txn) LogInode(ii *InodeItem, fields InodeFields) {
	tx.checkLive("LogInode")
	if ii.tx != tx {
		panic("txn: LogInode on item owned by another transaction")
	}
	ii.fields |= fields
	tx.markDirty()
}
