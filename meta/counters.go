package meta

import "fmt"

// SBDeltas carries a transaction's accumulated counter changes. Each field
// is a signed delta applied to the matching superblock counter exactly once
// at commit; a cancelled transaction applies none of them.
type SBDeltas struct {
	FDBlocks  int64 // free data blocks
	IFree     int64 // free inodes
	ICount    int64 // allocated inodes
	FRExtents int64 // free realtime extents
}

// IsZero reports whether no counter would change.
func (d SBDeltas) IsZero() bool {
	return d == SBDeltas{}
}

// Add accumulates other into d.
func (d *SBDeltas) Add(other SBDeltas) {
	d.FDBlocks += other.FDBlocks
	d.IFree += other.IFree
	d.ICount += other.ICount
	d.FRExtents += other.FRExtents
}

// applyDelta is a checked signed add on an unsigned counter.
func applyDelta(cur uint64, delta int64) (uint64, bool) {
	if delta >= 0 {
		return cur + uint64(delta), true
	}
	dec := uint64(-delta)
	if dec > cur {
		return 0, false
	}
	return cur - dec, true
}

// ApplyDeltas applies a committing transaction's counter deltas to the
// superblock atomically, bumps the commit sequence, re-checksums, and marks
// the superblock range dirty. Fails with ErrNoSpace if any counter would go
// negative, in which case no counter is changed.
//
// This is the single serialization point concurrent transactions share:
// deltas compose by simple addition under the image mutex.
func (img *Image) ApplyDeltas(d SBDeltas) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	fdblocks, ok := applyDelta(img.sb.FDBlocks(), d.FDBlocks)
	if !ok {
		return fmt.Errorf("apply fdblocks delta %d to %d: %w", d.FDBlocks, img.sb.FDBlocks(), ErrNoSpace)
	}
	ifree, ok := applyDelta(img.sb.IFree(), d.IFree)
	if !ok {
		return fmt.Errorf("apply ifree delta %d to %d: %w", d.IFree, img.sb.IFree(), ErrNoSpace)
	}
	icount, ok := applyDelta(img.sb.ICount(), d.ICount)
	if !ok {
		return fmt.Errorf("apply icount delta %d to %d: %w", d.ICount, img.sb.ICount(), ErrNoSpace)
	}
	frextents, ok := applyDelta(img.sb.FRExtents(), d.FRExtents)
	if !ok {
		return fmt.Errorf("apply frextents delta %d to %d: %w", d.FRExtents, img.sb.FRExtents(), ErrNoSpace)
	}

	img.sb.SetFDBlocks(fdblocks)
	img.sb.SetIFree(ifree)
	img.sb.SetICount(icount)
	img.sb.SetFRExtents(frextents)
	img.sb.SetCommitSeq(img.sb.CommitSeq() + 1)
	img.sb.Rechecksum()
	img.tracker.Add(0, img.BlockSize())
	return nil
}
