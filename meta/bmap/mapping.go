package bmap

import (
	"fmt"
	"sort"

	"github.com/joshuapare/metakit/internal/format"
)

// Mapping is one extent: BlockCount logical blocks starting at file offset
// StartOff, backed by physical blocks starting at StartBlock. Unwritten
// marks preallocated space whose contents are undefined.
type Mapping struct {
	StartOff   uint64
	StartBlock uint64
	BlockCount uint64
	Unwritten  bool
}

// EndOff returns the first logical block past the mapping.
func (m Mapping) EndOff() uint64 { return m.StartOff + m.BlockCount }

// EndBlock returns the first physical block past the mapping.
func (m Mapping) EndBlock() uint64 { return m.StartBlock + m.BlockCount }

// Fork is one of a file's extent-mapping address spaces. Extents are
// sorted by StartOff and never overlap.
type Fork struct {
	Format  uint8 // format.ForkFormat* value
	Extents []Mapping

	// InlineData holds the payload when Format is ForkFormatInline.
	InlineData []byte
}

// NExtents returns the mapping count.
func (f *Fork) NExtents() uint64 { return uint64(len(f.Extents)) }

// Blocks returns the total mapped block count.
func (f *Fork) Blocks() uint64 {
	var total uint64
	for _, m := range f.Extents {
		total += m.BlockCount
	}
	return total
}

// HasMappings reports whether the fork format carries block mappings.
func (f *Fork) HasMappings() bool {
	return f.Format == format.ForkFormatExtents || f.Format == format.ForkFormatChained
}

// LookupExtent returns the mapping containing logical block off.
func (f *Fork) LookupExtent(off uint64) (Mapping, bool) {
	i := sort.Search(len(f.Extents), func(i int) bool {
		return f.Extents[i].EndOff() > off
	})
	if i < len(f.Extents) && f.Extents[i].StartOff <= off {
		return f.Extents[i], true
	}
	return Mapping{}, false
}

// NextExtent returns the first mapping at or after logical block off.
func (f *Fork) NextExtent(off uint64) (Mapping, bool) {
	i := sort.Search(len(f.Extents), func(i int) bool {
		return f.Extents[i].EndOff() > off
	})
	if i < len(f.Extents) {
		return f.Extents[i], true
	}
	return Mapping{}, false
}

// Insert adds a mapping, merging with its logical left/right neighbors
// when they are contiguous in both offset and physical address, share the
// written state, and the merged run stays within MaxExtentLen.
func (f *Fork) Insert(m Mapping) error {
	if m.BlockCount == 0 {
		return nil
	}
	if m.BlockCount > format.MaxExtentLen {
		return fmt.Errorf("%w: %d blocks", ErrTooLong, m.BlockCount)
	}
	if !f.HasMappings() {
		return fmt.Errorf("%w: format %d", ErrBadFormat, f.Format)
	}

	i := sort.Search(len(f.Extents), func(i int) bool {
		return f.Extents[i].StartOff >= m.StartOff
	})
	if i > 0 && f.Extents[i-1].EndOff() > m.StartOff {
		return fmt.Errorf("%w: [%d,+%d) hits [%d,+%d)", ErrOverlap,
			m.StartOff, m.BlockCount, f.Extents[i-1].StartOff, f.Extents[i-1].BlockCount)
	}
	if i < len(f.Extents) && m.EndOff() > f.Extents[i].StartOff {
		return fmt.Errorf("%w: [%d,+%d) hits [%d,+%d)", ErrOverlap,
			m.StartOff, m.BlockCount, f.Extents[i].StartOff, f.Extents[i].BlockCount)
	}

	mergeLeft := i > 0 && canMerge(f.Extents[i-1], m)
	mergeRight := i < len(f.Extents) && canMerge(m, f.Extents[i])

	switch {
	case mergeLeft && mergeRight:
		if f.Extents[i-1].BlockCount+m.BlockCount+f.Extents[i].BlockCount > format.MaxExtentLen {
			// Three-way merge too long; settle for the left merge.
			f.Extents[i-1].BlockCount += m.BlockCount
			return nil
		}
		f.Extents[i-1].BlockCount += m.BlockCount + f.Extents[i].BlockCount
		f.Extents = append(f.Extents[:i], f.Extents[i+1:]...)
	case mergeLeft:
		f.Extents[i-1].BlockCount += m.BlockCount
	case mergeRight:
		f.Extents[i].StartOff = m.StartOff
		f.Extents[i].StartBlock = m.StartBlock
		f.Extents[i].BlockCount += m.BlockCount
	default:
		f.Extents = append(f.Extents, Mapping{})
		copy(f.Extents[i+1:], f.Extents[i:])
		f.Extents[i] = m
	}
	return nil
}

// Remove unmaps [startOff, startOff+count), splitting mappings at the
// boundaries. The whole range must be mapped; a hole inside it fails with
// ErrNotMapped and leaves the fork unchanged.
func (f *Fork) Remove(startOff, count uint64) error {
	if count == 0 {
		return nil
	}
	if !f.HasMappings() {
		return fmt.Errorf("%w: format %d", ErrBadFormat, f.Format)
	}
	end := startOff + count

	// Verify coverage first so failure cannot leave a partial removal.
	off := startOff
	for off < end {
		m, ok := f.LookupExtent(off)
		if !ok {
			return fmt.Errorf("%w: hole at block %d", ErrNotMapped, off)
		}
		off = m.EndOff()
	}

	out := f.Extents[:0:0]
	for _, m := range f.Extents {
		switch {
		case m.EndOff() <= startOff || m.StartOff >= end:
			out = append(out, m)
		default:
			if m.StartOff < startOff {
				keep := m
				keep.BlockCount = startOff - m.StartOff
				out = append(out, keep)
			}
			if m.EndOff() > end {
				keep := m
				skip := end - m.StartOff
				keep.StartOff += skip
				keep.StartBlock += skip
				keep.BlockCount -= skip
				out = append(out, keep)
			}
		}
	}
	f.Extents = out
	return nil
}

// canMerge reports whether right can be absorbed onto the end of left.
func canMerge(left, right Mapping) bool {
	return left.EndOff() == right.StartOff &&
		left.EndBlock() == right.StartBlock &&
		left.Unwritten == right.Unwritten &&
		left.BlockCount+right.BlockCount <= format.MaxExtentLen
}
