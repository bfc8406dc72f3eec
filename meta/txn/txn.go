package txn

import (
	"context"
	"fmt"

	"github.com/joshuapare/metakit/meta"
)

// CounterField selects a mount-wide summary counter for ModCounter.
type CounterField int

const (
	// CntFDBlocks accumulates a free-data-block delta, applied at commit.
	CntFDBlocks CounterField = iota

	// CntIFree accumulates a free-inode delta.
	CntIFree

	// CntICount accumulates an allocated-inode delta.
	CntICount

	// CntFRExtents accumulates a free-realtime-extent delta.
	CntFRExtents

	// CntBlockResUsed debits the transaction's block reservation
	// immediately and accumulates the matching free-block delta.
	// Overdrawing the reservation panics before any shared counter moves.
	CntBlockResUsed

	// CntRTResUsed is CntBlockResUsed for the realtime reservation.
	CntRTResUsed
)

// Txn aggregates a set of log items, pending deferred-operation chains, a
// block/rt/log reservation, and accumulated counter deltas. Exactly one of
// Commit or Cancel must be called on every transaction; Roll counts as the
// predecessor's Commit.
type Txn struct {
	img  *meta.Image
	prof ResProfile

	blockRes  resv
	rtRes     resv
	logRes    uint32
	permanent bool
	empty     bool

	items      []LogItem // insertion order is flush order
	bufItems   map[*meta.Buf]*BufItem
	inodeItems map[Object]*InodeItem
	held       map[LogItem]struct{}

	chains       []*chain
	nested       *chain // registrations made while draining
	draining     bool
	intentLogged bool

	deltas     meta.SBDeltas
	dirty      bool
	superDirty bool
	done       bool
}

// Alloc creates a transaction, reserving blocks data blocks, rtextents
// realtime extents, and the profile's log budget up front. Fails with
// meta.ErrNoSpace when any of the three is short; on failure no partial
// reservation is left outstanding and no transaction is returned.
func Alloc(img *meta.Image, prof ResProfile, blocks, rtextents uint64) (*Txn, error) {
	if err := img.ReserveLog(prof.LogBlocks); err != nil {
		return nil, fmt.Errorf("txn %q: %w", prof.Name, err)
	}
	if err := img.ReserveBlocks(blocks); err != nil {
		img.ReleaseLog(prof.LogBlocks)
		return nil, fmt.Errorf("txn %q: %w", prof.Name, err)
	}
	if err := img.ReserveRT(rtextents); err != nil {
		img.UnreserveBlocks(blocks)
		img.ReleaseLog(prof.LogBlocks)
		return nil, fmt.Errorf("txn %q: %w", prof.Name, err)
	}
	return newTxn(img, prof, blocks, rtextents), nil
}

// AllocEmpty creates a zero-reservation transaction for read-only/query
// work. Committing it with any dirty item is a defect and panics.
func AllocEmpty(img *meta.Image) *Txn {
	tx := newTxn(img, ResEmpty, 0, 0)
	tx.empty = true
	return tx
}

func newTxn(img *meta.Image, prof ResProfile, blocks, rtextents uint64) *Txn {
	return &Txn{
		img:        img,
		prof:       prof,
		blockRes:   resv{requested: blocks},
		rtRes:      resv{requested: rtextents},
		logRes:     prof.LogBlocks,
		permanent:  prof.Permanent,
		bufItems:   make(map[*meta.Buf]*BufItem),
		inodeItems: make(map[Object]*InodeItem),
		held:       make(map[LogItem]struct{}),
	}
}

// Img returns the image this transaction runs against.
func (tx *Txn) Img() *meta.Image { return tx.img }

// Profile returns the reservation profile.
func (tx *Txn) Profile() ResProfile { return tx.prof }

// IsDirty reports whether anything was logged or any counter modified.
func (tx *Txn) IsDirty() bool { return tx.dirty }

// BlockResUnused returns the unconsumed portion of the block reservation.
func (tx *Txn) BlockResUnused() uint64 { return tx.blockRes.unused() }

// BlockResRequested returns the block reservation's requested amount.
func (tx *Txn) BlockResRequested() uint64 { return tx.blockRes.requested }

// BlockResUsed returns the consumed portion of the block reservation.
func (tx *Txn) BlockResUsed() uint64 { return tx.blockRes.used }

// EnableIntentLog asks intents in this transaction to write durable
// create/done records to the image's intent log. The setting travels to
// roll successors.
func (tx *Txn) EnableIntentLog() { tx.intentLogged = true }

// IntentLogEnabled reports whether durable intent records were requested.
func (tx *Txn) IntentLogEnabled() bool { return tx.intentLogged }

func (tx *Txn) checkLive(op string) {
	if tx.done {
		panic(fmt.Sprintf("txn: %s on a finished transaction", op))
	}
}

func (tx *Txn) markDirty() {
	tx.dirty = true
}

// ModCounter accumulates delta into the transaction's running total for
// field. The reservation-backed fields debit the reservation immediately
// and panic on overdraft; the others touch nothing shared until commit.
func (tx *Txn) ModCounter(field CounterField, delta int64) {
	tx.checkLive("ModCounter")
	switch field {
	case CntFDBlocks:
		tx.deltas.FDBlocks += delta
	case CntIFree:
		tx.deltas.IFree += delta
	case CntICount:
		tx.deltas.ICount += delta
	case CntFRExtents:
		tx.deltas.FRExtents += delta
	case CntBlockResUsed:
		tx.useReservation(&tx.blockRes, delta, "block")
		tx.deltas.FDBlocks -= delta
	case CntRTResUsed:
		tx.useReservation(&tx.rtRes, delta, "rt extent")
		tx.deltas.FRExtents -= delta
	default:
		panic(fmt.Sprintf("txn: unknown counter field %d", field))
	}
	tx.dirty = true
	tx.superDirty = true
}

// useReservation debits (delta > 0) or returns (delta < 0) reservation.
// The check happens before any mutation so an overdraft leaves the
// running total untouched.
func (tx *Txn) useReservation(r *resv, delta int64, what string) {
	if delta >= 0 {
		n := uint64(delta)
		if r.used+n > r.requested {
			panic(fmt.Sprintf("txn %q: %s reservation overdraft: used %d + %d > requested %d",
				tx.prof.Name, what, r.used, n, r.requested))
		}
		r.used += n
		return
	}
	n := uint64(-delta)
	if n > r.used {
		panic(fmt.Sprintf("txn %q: returning %d unconsumed %ss with only %d used",
			tx.prof.Name, n, what, r.used))
	}
	r.used -= n
}

// Roll produces a successor transaction that inherits the unused portion of
// the block/rt reservation, the log budget, the pending deferred-operation
// chains, and any held items, then commits this transaction without
// draining those chains.
//
// On commit failure the successor is still returned alongside the error;
// the caller must Cancel it. This two-phase failure path is deliberate, not
// automatic cleanup.
func (tx *Txn) Roll(ctx context.Context) (*Txn, error) {
	tx.checkLive("Roll")
	if len(tx.chains) > 0 && !tx.permanent {
		panic("txn: deferred work may only roll under a permanent reservation")
	}

	succ := newTxn(tx.img, tx.prof, 0, 0)
	succ.blockRes = resv{requested: tx.blockRes.unused()}
	succ.rtRes = resv{requested: tx.rtRes.unused()}
	succ.logRes = tx.logRes
	succ.intentLogged = tx.intentLogged

	// The predecessor keeps only what it consumed; everything else,
	// including the log budget, travels with the successor.
	tx.blockRes.requested = tx.blockRes.used
	tx.rtRes.requested = tx.rtRes.used
	tx.logRes = 0

	succ.chains = tx.chains
	tx.chains = nil

	err := tx.commitLocal(ctx, succ)
	return succ, err
}

// Commit makes the transaction's changes visible atomically. A permanent
// transaction first drains its deferred-operation chains, rolling as often
// as the work demands; a drain failure unwinds the current transaction as
// Cancel would and returns the error.
//
// A clean transaction skips straight to resource release. Otherwise the
// accumulated counter deltas are applied to the superblock exactly once,
// every dirty item is flushed in insertion order, the dirty ranges and
// superblock are pushed to disk, and the transaction is released.
func (tx *Txn) Commit(ctx context.Context) error {
	tx.checkLive("Commit")

	cur := tx
	if len(cur.chains) > 0 {
		c, err := drain(ctx, cur)
		cur = c
		if err != nil {
			if !cur.done {
				cur.Cancel()
			}
			return err
		}
	}
	return cur.commitLocal(ctx, nil)
}

// commitLocal commits this transaction only: no draining. succ, when
// non-nil, receives the held items instead of having them released.
func (tx *Txn) commitLocal(ctx context.Context, succ *Txn) error {
	tx.checkLive("commit")

	if !tx.dirty {
		tx.releaseAll(false, succ)
		return nil
	}
	if tx.empty {
		panic("txn: committing a dirty zero-reservation transaction")
	}

	if err := tx.img.ApplyDeltas(tx.deltas); err != nil {
		// Counters failed before anything was persisted: unwind whole.
		tx.releaseAll(true, succ)
		return err
	}

	// A flush failure is reported up, but release still completes: no
	// dangling item list, whatever the on-disk state.
	var firstErr error
	for _, it := range tx.items {
		if err := it.flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := tx.img.FlushData(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := tx.img.FlushSuper(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	tx.releaseAll(false, succ)
	return firstErr
}

// Cancel drains nothing: pending intent chains are cancelled, every item
// is released without flushing (dirty buffers invalidated), and the
// reservations are returned.
func (tx *Txn) Cancel() {
	tx.checkLive("Cancel")
	for _, ch := range tx.chains {
		for _, it := range ch.intents {
			it.Cancel()
		}
	}
	tx.chains = nil
	tx.releaseAll(true, nil)
}

// releaseAll detaches every item, returns the reservations, and marks the
// transaction done.
func (tx *Txn) releaseAll(abort bool, succ *Txn) {
	for _, it := range tx.items {
		if succ != nil {
			if _, held := tx.held[it]; held {
				tx.migrate(it, succ)
				continue
			}
		}
		it.release(abort)
	}
	tx.items = nil
	tx.bufItems = nil
	tx.inodeItems = nil
	tx.held = nil

	tx.img.UnreserveBlocks(tx.blockRes.requested)
	tx.img.UnreserveRT(tx.rtRes.requested)
	tx.img.ReleaseLog(tx.logRes)
	tx.done = true
}

// migrate re-joins a held item to the roll successor with its dirty range
// reset (the predecessor's commit flushed it).
func (tx *Txn) migrate(item LogItem, succ *Txn) {
	switch it := item.(type) {
	case *BufItem:
		it.buf.ClearOwner()
		it.buf.SetOwner(succ)
		it.tx = succ
		it.resetDirty()
		succ.bufItems[it.buf] = it
		succ.items = append(succ.items, it)
	case *InodeItem:
		it.tx = succ
		it.resetDirty()
		succ.inodeItems[it.obj] = it
		succ.items = append(succ.items, it)
	default:
		panic(fmt.Sprintf("txn: cannot hold item of kind %q", item.Kind()))
	}
}
