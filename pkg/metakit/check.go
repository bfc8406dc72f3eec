package metakit

import (
	"errors"
	"fmt"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/inode"
)

// Check verifies the committed on-disk state: superblock geometry and
// checksum, inode counters against the table, fork invariants, and the
// free-block counter against the space the mount walk accounted for.
// Every problem found is reported; the result joins them all.
func (fs *FS) Check() error {
	var problems []error
	sb := fs.img.Super()

	if err := sb.Validate(int64(len(fs.img.Bytes()))); err != nil {
		problems = append(problems, err)
	}

	perBlock := uint64(fs.img.BlockSize()) / format.InodeSize
	total := uint64(sb.InoBlocks()) * perBlock
	var claimed uint64
	for ino := uint64(0); ino < total; ino++ {
		ip, err := inode.Load(fs.img, ino)
		if errors.Is(err, inode.ErrBadInode) {
			continue
		}
		if err != nil {
			problems = append(problems, fmt.Errorf("inode %d: %w", ino, err))
			continue
		}
		claimed++
		problems = append(problems, fs.checkFork(ip, &ip.Data, false)...)
		problems = append(problems, fs.checkFork(ip, &ip.Attr, true)...)
	}

	if claimed != sb.ICount() {
		problems = append(problems, fmt.Errorf("%w: %d claimed inodes, counter says %d",
			ErrInconsistent, claimed, sb.ICount()))
	}
	if free := total - claimed; free != sb.IFree() {
		problems = append(problems, fmt.Errorf("%w: %d free inode slots, counter says %d",
			ErrInconsistent, free, sb.IFree()))
	}
	if got := fs.fspace.TotalFree(); got != sb.FDBlocks() {
		problems = append(problems, fmt.Errorf("%w: %d unclaimed blocks, counter says %d",
			ErrInconsistent, got, sb.FDBlocks()))
	}

	return errors.Join(problems...)
}

// checkFork verifies one fork's mapping invariants: sorted by offset,
// non-overlapping, inside the image, and within the extent-count limit.
func (fs *FS) checkFork(ip *inode.Inode, f *bmap.Fork, attr bool) []error {
	if !f.HasMappings() {
		return nil
	}
	var problems []error
	dblocks := fs.img.Super().DBlocks()

	if limit := bmap.MaxExtents(attr, ip.HasLargeExtents()); f.NExtents() > limit {
		problems = append(problems, fmt.Errorf("%w: inode %d has %d extents, limit %d",
			ErrInconsistent, ip.Ino, f.NExtents(), limit))
	}
	var prevEnd uint64
	for i, m := range f.Extents {
		if m.BlockCount == 0 || m.BlockCount > format.MaxExtentLen {
			problems = append(problems, fmt.Errorf("%w: inode %d extent %d length %d",
				ErrInconsistent, ip.Ino, i, m.BlockCount))
		}
		if i > 0 && m.StartOff < prevEnd {
			problems = append(problems, fmt.Errorf("%w: inode %d extents %d/%d out of order",
				ErrInconsistent, ip.Ino, i-1, i))
		}
		if m.StartBlock >= dblocks || m.EndBlock() > dblocks {
			problems = append(problems, fmt.Errorf("%w: inode %d maps [%d,+%d) outside image",
				ErrInconsistent, ip.Ino, m.StartBlock, m.BlockCount))
		}
		prevEnd = m.EndOff()
	}
	return problems
}
