package swapext

import (
	"fmt"

	"github.com/joshuapare/metakit/meta/bmap"
)

// Estimate is the result of the pre-swap lockstep walk: blocks that would
// move into each file, the extent-count change each fork would see, and
// whether an extent-counter upgrade is needed to represent the result.
type Estimate struct {
	Blocks1 uint64
	Blocks2 uint64

	NExtentsDelta1 int64
	NExtentsDelta2 int64

	Upgrade1 bool
	Upgrade2 bool
}

// estimate walks both forks exactly as the swap would, against private
// clones, so nothing real mutates. Extent-count deltas fall out of the
// same merge-class model the forks apply on insert: a placed mapping that
// bridges both neighbors shrinks the count, one-sided contiguity is
// neutral, an island grows it.
func (s *Intent) estimate(largeOK bool) (Estimate, error) {
	f1 := cloneFork(s.fork(s.ip1))
	f2 := cloneFork(s.fork(s.ip2))
	n1, n2 := int64(f1.NExtents()), int64(f2.NExtents())

	var est Estimate
	off1, off2, count := s.off1, s.off2, s.count
	for count > 0 {
		m1, ok := f1.LookupExtent(off1)
		if !ok || m1.StartOff > off1 {
			return est, fmt.Errorf("%w: inode %d has no mapping at block %d", ErrCorrupt, s.ip1.Ino, off1)
		}
		lead := off1 - m1.StartOff
		m1.StartOff += lead
		m1.StartBlock += lead
		m1.BlockCount -= lead
		if m1.BlockCount > count {
			m1.BlockCount = count
		}

		if s.flags&FlagWrittenOnly != 0 && m1.Unwritten {
			off1 += m1.BlockCount
			off2 += m1.BlockCount
			count -= m1.BlockCount
			continue
		}

		m2, ok := f2.LookupExtent(off2)
		if !ok || m2.StartOff > off2 {
			return est, fmt.Errorf("%w: inode %d has no mapping at block %d", ErrCorrupt, s.ip2.Ino, off2)
		}
		lead = off2 - m2.StartOff
		m2.StartOff += lead
		m2.StartBlock += lead
		m2.BlockCount -= lead
		if m2.BlockCount > m1.BlockCount {
			m2.BlockCount = m1.BlockCount
		}
		n := m2.BlockCount
		m1.BlockCount = n

		if m1.StartBlock == m2.StartBlock {
			if m1.Unwritten != m2.Unwritten {
				return est, fmt.Errorf("%w: block %d written state differs between inodes %d and %d",
					ErrCorrupt, m1.StartBlock, s.ip1.Ino, s.ip2.Ino)
			}
			off1 += n
			off2 += n
			count -= n
			continue
		}

		if err := f1.Remove(m1.StartOff, n); err != nil {
			return est, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := f2.Remove(m2.StartOff, n); err != nil {
			return est, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := f1.Insert(bmap.Mapping{StartOff: m1.StartOff, StartBlock: m2.StartBlock, BlockCount: n, Unwritten: m2.Unwritten}); err != nil {
			return est, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := f2.Insert(bmap.Mapping{StartOff: m2.StartOff, StartBlock: m1.StartBlock, BlockCount: n, Unwritten: m1.Unwritten}); err != nil {
			return est, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		est.Blocks1 += n
		est.Blocks2 += n
		off1 += n
		off2 += n
		count -= n
	}

	est.NExtentsDelta1 = int64(f1.NExtents()) - n1
	est.NExtentsDelta2 = int64(f2.NExtents()) - n2

	var err error
	est.Upgrade1, err = s.checkGrowth(s.ip1.HasLargeExtents(), largeOK, uint64(n1), est.NExtentsDelta1)
	if err != nil {
		return est, fmt.Errorf("inode %d: %w", s.ip1.Ino, err)
	}
	est.Upgrade2, err = s.checkGrowth(s.ip2.HasLargeExtents(), largeOK, uint64(n2), est.NExtentsDelta2)
	if err != nil {
		return est, fmt.Errorf("inode %d: %w", s.ip2.Ino, err)
	}
	return est, nil
}

// checkGrowth guards the extent-count ceiling, modeling the wide-counter
// upgrade before giving up when the caller allows it.
func (s *Intent) checkGrowth(alreadyLarge, largeOK bool, current uint64, delta int64) (upgrade bool, err error) {
	if !bmap.WouldOverflow(current, delta, s.attr, alreadyLarge) {
		return false, nil
	}
	if alreadyLarge || s.flags&FlagAllowUpgrade == 0 || !largeOK {
		return false, ErrTooFragmented
	}
	if bmap.WouldOverflow(current, delta, s.attr, true) {
		return false, ErrTooFragmented
	}
	return true, nil
}

func cloneFork(f *bmap.Fork) *bmap.Fork {
	return &bmap.Fork{
		Format:  f.Format,
		Extents: append([]bmap.Mapping(nil), f.Extents...),
	}
}
