package swapext

import (
	"fmt"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/alloc"
	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/inode"
	"github.com/joshuapare/metakit/meta/refcount"
	"github.com/joshuapare/metakit/meta/rmap"
	"github.com/joshuapare/metakit/meta/txn"
)

// Flags modify how a swap runs.
type Flags uint32

const (
	// FlagLogged asks for durable intent records so the operation can be
	// resumed across a crash between sub-transactions.
	FlagLogged Flags = 1 << iota

	// FlagWrittenOnly swaps only the written portions of file 1's range:
	// unwritten preallocations are consumed silently.
	FlagWrittenOnly

	// FlagAllowUpgrade permits widening an inode's extent counters when
	// the swap would overflow the narrow representation.
	FlagAllowUpgrade
)

// Cleanup is the bitmask of post-swap obligations, acted on only after
// the remaining block count reaches zero.
type Cleanup uint32

const (
	// CleanShrinkInline2 tries to compact the second file's fork back to
	// the literal area once the swap is done.
	CleanShrinkInline2 Cleanup = 1 << iota

	// CleanClearReflink1 clears the shared-blocks flag on inode 1 if the
	// reference counts no longer show sharing.
	CleanClearReflink1

	// CleanClearReflink2 does the same for inode 2.
	CleanClearReflink2
)

// Intent is the extent-swap state machine. Each finish step consumes one
// matched pair of mappings (or one identical/skipped run); the terminal
// step discharges the cleanup obligations.
type Intent struct {
	txn.IntentBase

	ip1, ip2 *inode.Inode
	attr     bool

	off1, off2 uint64
	count      uint64

	size1, size2 *uint64
	cleanup      Cleanup
	flags        Flags
	cleanupDone  bool

	// Pending extent-counter widenings, applied on the first finish step
	// so the flag change is logged with the inode core.
	upgrade1, upgrade2 bool

	rindex  *rmap.Index
	rcindex *refcount.Index
	fspace  *alloc.FreeSpace

	ilog  *meta.IntentLog
	logID uint64
}

// Name implements txn.Intent.
func (s *Intent) Name() string { return "extent-swap" }

// RemainingSize implements txn.Intent: blocks left to exchange plus one
// unit for the pending cleanup phase.
func (s *Intent) RemainingSize() uint64 {
	n := s.count
	if !s.cleanupDone {
		n++
	}
	return n
}

// CreateIntent writes a durable record when the transaction asked for one.
func (s *Intent) CreateIntent(tx *txn.Txn) error {
	if tx.IntentLogEnabled() {
		s.ilog = tx.Img().Log()
		s.logID = s.ilog.Append(s.Name())
	}
	return nil
}

// CreateDone marks the durable record complete.
func (s *Intent) CreateDone(tx *txn.Txn) error {
	if s.logID != 0 {
		return tx.Img().Log().MarkDone(s.logID)
	}
	return nil
}

func (s *Intent) fork(i *inode.Inode) *bmap.Fork {
	if s.attr {
		return &i.Attr
	}
	return &i.Data
}

// Finish advances the swap by one run of blocks, then runs cleanup once
// nothing remains. The inodes ride along as held items so every
// sub-transaction flushes their latest fork state.
func (s *Intent) Finish(tx *txn.Txn) (txn.StepResult, error) {
	s.joinInodes(tx)

	if s.count > 0 {
		if err := s.swapStep(tx); err != nil {
			return txn.StepDone, err
		}
		if s.count > 0 {
			return txn.StepMoreWork, nil
		}
	}
	if err := s.finishCleanup(tx); err != nil {
		return txn.StepDone, err
	}
	return txn.StepDone, nil
}

func (s *Intent) joinInodes(tx *txn.Txn) {
	if s.upgrade1 {
		s.ip1.Flags |= format.InoFlagLargeExtents
		s.upgrade1 = false
	}
	if s.upgrade2 {
		s.ip2.Flags |= format.InoFlagLargeExtents
		s.upgrade2 = false
	}
	fields := txn.LogCore | txn.LogData
	if s.attr {
		fields = txn.LogCore | txn.LogAttr
	}
	for _, ip := range []*inode.Inode{s.ip1, s.ip2} {
		ii := tx.JoinInode(ip)
		tx.LogInode(ii, fields)
		tx.Hold(ii)
	}
}

// swapStep processes exactly one run: the next mapping of file 1 at the
// cursor, trimmed to the remaining count.
func (s *Intent) swapStep(tx *txn.Txn) error {
	f1, f2 := s.fork(s.ip1), s.fork(s.ip2)

	m1, ok := f1.LookupExtent(s.off1)
	if !ok || m1.StartOff > s.off1 {
		return fmt.Errorf("%w: inode %d has no mapping at block %d", ErrCorrupt, s.ip1.Ino, s.off1)
	}
	// Trim to the cursor and the remaining count.
	lead := s.off1 - m1.StartOff
	m1.StartOff += lead
	m1.StartBlock += lead
	m1.BlockCount -= lead
	if m1.BlockCount > s.count {
		m1.BlockCount = s.count
	}

	// Skip policy: unwritten preallocations pass through untouched when
	// only written data was asked for. Single-block allocation units make
	// every extent whole-skippable.
	if s.flags&FlagWrittenOnly != 0 && m1.Unwritten {
		s.advance(m1.BlockCount)
		return nil
	}

	m2, ok := f2.LookupExtent(s.off2)
	if !ok || m2.StartOff > s.off2 {
		return fmt.Errorf("%w: inode %d has no mapping at block %d", ErrCorrupt, s.ip2.Ino, s.off2)
	}
	lead = s.off2 - m2.StartOff
	m2.StartOff += lead
	m2.StartBlock += lead
	m2.BlockCount -= lead
	if m2.BlockCount > m1.BlockCount {
		m2.BlockCount = m1.BlockCount
	}
	n := m2.BlockCount
	m1.BlockCount = n

	if m1.StartBlock == m2.StartBlock {
		// Already the same storage: nothing moves, but the states must
		// agree or the image is lying to someone.
		if m1.Unwritten != m2.Unwritten {
			return fmt.Errorf("%w: block %d written state differs between inodes %d and %d",
				ErrCorrupt, m1.StartBlock, s.ip1.Ino, s.ip2.Ino)
		}
		s.advance(n)
		return nil
	}

	if err := s.exchange(tx, m1, m2); err != nil {
		return err
	}
	s.advance(n)
	return nil
}

// exchange moves m2's storage under file 1's offset and vice versa, and
// queues the matching reverse-mapping adjustments, one per extent moved
// into its new owner.
func (s *Intent) exchange(tx *txn.Txn, m1, m2 bmap.Mapping) error {
	f1, f2 := s.fork(s.ip1), s.fork(s.ip2)

	if err := f1.Remove(m1.StartOff, m1.BlockCount); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := f2.Remove(m2.StartOff, m2.BlockCount); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	in1 := bmap.Mapping{StartOff: m1.StartOff, StartBlock: m2.StartBlock, BlockCount: m2.BlockCount, Unwritten: m2.Unwritten}
	in2 := bmap.Mapping{StartOff: m2.StartOff, StartBlock: m1.StartBlock, BlockCount: m1.BlockCount, Unwritten: m1.Unwritten}
	if err := f1.Insert(in1); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := f2.Insert(in2); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if s.rindex != nil {
		fk := rmap.ForkData
		if s.attr {
			fk = rmap.ForkAttr
		}
		tx.Defer(rmap.NewRemapIntent(s.rindex,
			rmap.Record{StartBlock: m1.StartBlock, BlockCount: m1.BlockCount, Owner: s.ip1.Ino, Fork: fk, StartOff: m1.StartOff, Unwritten: m1.Unwritten},
			rmap.Record{StartBlock: m1.StartBlock, BlockCount: m1.BlockCount, Owner: s.ip2.Ino, Fork: fk, StartOff: m2.StartOff, Unwritten: m1.Unwritten},
		))
		tx.Defer(rmap.NewRemapIntent(s.rindex,
			rmap.Record{StartBlock: m2.StartBlock, BlockCount: m2.BlockCount, Owner: s.ip2.Ino, Fork: fk, StartOff: m2.StartOff, Unwritten: m2.Unwritten},
			rmap.Record{StartBlock: m2.StartBlock, BlockCount: m2.BlockCount, Owner: s.ip1.Ino, Fork: fk, StartOff: m1.StartOff, Unwritten: m2.Unwritten},
		))
	}
	return nil
}

func (s *Intent) advance(n uint64) {
	s.off1 += n
	s.off2 += n
	s.count -= n
}

// finishCleanup discharges the post-swap obligations once.
func (s *Intent) finishCleanup(tx *txn.Txn) error {
	if s.cleanupDone {
		return nil
	}

	if !s.attr {
		if s.size1 != nil {
			s.ip1.Size = *s.size1
		}
		if s.size2 != nil {
			s.ip2.Size = *s.size2
		}
	}

	if s.cleanup&CleanShrinkInline2 != 0 {
		freed, _ := s.ip2.TryShrinkInline(tx.Img())
		if s.fspace != nil {
			for _, blk := range freed {
				tx.Defer(alloc.NewExtentFreeIntent(s.fspace, blk, 1, s.ip2.Ino))
			}
		}
	}

	if s.cleanup&CleanClearReflink1 != 0 {
		s.clearReflink(s.ip1)
	}
	if s.cleanup&CleanClearReflink2 != 0 {
		s.clearReflink(s.ip2)
	}

	// CoW staging only makes sense on shared inodes.
	for _, ip := range []*inode.Inode{s.ip1, s.ip2} {
		if !ip.HasReflink() {
			ip.Cow.Extents = nil
			ip.Cow.InlineData = nil
		}
	}

	s.cleanupDone = true
	return nil
}

// clearReflink drops the shared-blocks flag unless the reference counts
// still show sharing somewhere in the fork.
func (s *Intent) clearReflink(ip *inode.Inode) {
	if !ip.HasReflink() {
		return
	}
	if s.rcindex != nil {
		for _, m := range s.fork(ip).Extents {
			if s.rcindex.SharesAny(m.StartBlock, m.BlockCount) {
				return
			}
		}
	}
	ip.SetReflink(false)
}

// Cancel abandons the unswapped remainder.
func (s *Intent) Cancel() { s.dropLogRecord() }

// Abort abandons the swap after a failed finish step.
func (s *Intent) Abort() { s.dropLogRecord() }

func (s *Intent) dropLogRecord() {
	if s.ilog != nil && s.logID != 0 {
		_ = s.ilog.CancelIntent(s.logID)
		s.logID = 0
	}
}
