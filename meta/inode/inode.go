package inode

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/bmap"
	"github.com/joshuapare/metakit/meta/txn"
)

// forkoffUnits is the attribute fork offset in 8-byte units: the data
// fork owns the first forkoffUnits*8 bytes of the literal area, the
// attribute fork the rest.
const forkoffUnits = 16

const (
	dataLiteralSize = forkoffUnits * 8
	attrLiteralSize = format.InodeLiteralSize - dataLiteralSize

	maxInlineDataExtents = dataLiteralSize / format.ExtentRecordSize
	maxInlineAttrExtents = attrLiteralSize / format.ExtentRecordSize
)

// Inode is the in-core form of one inode record. Field mutations are
// invisible until a transaction the inode is joined to commits with the
// matching dirty-field bits logged.
type Inode struct {
	Ino     uint64
	Mode    uint16
	Nlink   uint32
	Flags   uint32
	Size    uint64
	NBlocks uint64
	Gen     uint32

	Data bmap.Fork
	Attr bmap.Fork

	// Cow stages copy-on-write block mappings. In-core only: never
	// serialized, discarded when the inode leaves the cache.
	Cow bmap.Fork

	// ExtChain is the overflow extent-list chain, in order. Managed by
	// callers; serialization consumes as many links as the records need.
	ExtChain []uint64
}

// New returns a fresh in-core inode with empty extents forks. It does not
// touch the image; claim the table slot by joining and logging it in a
// transaction.
func New(ino uint64, mode uint16) *Inode {
	return &Inode{
		Ino:   ino,
		Mode:  mode,
		Nlink: 1,
		Data:  bmap.Fork{Format: format.ForkFormatExtents},
		Attr:  bmap.Fork{Format: format.ForkFormatExtents},
		Cow:   bmap.Fork{Format: format.ForkFormatExtents},
	}
}

// ObjectID implements txn.Object.
func (i *Inode) ObjectID() uint64 { return i.Ino }

// HasReflink reports whether the inode's blocks may be shared.
func (i *Inode) HasReflink() bool { return i.Flags&format.InoFlagReflink != 0 }

// SetReflink sets or clears the shared-blocks flag.
func (i *Inode) SetReflink(on bool) {
	if on {
		i.Flags |= format.InoFlagReflink
	} else {
		i.Flags &^= format.InoFlagReflink
	}
}

// HasLargeExtents reports whether this inode uses wide extent counters.
func (i *Inode) HasLargeExtents() bool { return i.Flags&format.InoFlagLargeExtents != 0 }

// tableSlot locates ino's table block and byte offset within it.
func tableSlot(img *meta.Image, ino uint64) (blk uint64, off int, err error) {
	sb := img.Super()
	perBlock := uint64(img.BlockSize()) / format.InodeSize
	if ino >= uint64(sb.InoBlocks())*perBlock {
		return 0, 0, fmt.Errorf("%w: %d", ErrBadNumber, ino)
	}
	blk = uint64(sb.InoBlock()) + ino/perBlock
	off = int(ino%perBlock) * format.InodeSize
	return blk, off, nil
}

// Load reads ino's record from the image into a fresh in-core inode.
func Load(img *meta.Image, ino uint64) (*Inode, error) {
	blk, off, err := tableSlot(img, ino)
	if err != nil {
		return nil, err
	}
	b, err := img.Get(blk, 1)
	if err != nil {
		return nil, err
	}
	defer img.Release(b)
	rec := b.Data[off : off+format.InodeSize]

	if rec[0] != format.InodeMagic[0] || rec[1] != format.InodeMagic[1] {
		return nil, fmt.Errorf("%w: inode %d magic %q", ErrBadInode, ino, rec[:2])
	}

	i := &Inode{
		Ino:     ino,
		Mode:    format.ReadU16(rec, format.InoModeOffset),
		Nlink:   format.ReadU32(rec, format.InoNlinkOffset),
		Flags:   format.ReadU32(rec, format.InoFlagsOffset),
		Size:    format.ReadU64(rec, format.InoSizeOffset),
		NBlocks: format.ReadU64(rec, format.InoNBlocksOffset),
		Gen:     format.ReadU32(rec, format.InoGenOffset),
		Data:    bmap.Fork{Format: rec[format.InoDFormatOffset]},
		Attr:    bmap.Fork{Format: rec[format.InoAFormatOffset]},
		Cow:     bmap.Fork{Format: format.ForkFormatExtents},
	}
	dn := format.ReadU64(rec, format.InoDNExtentsOffset)
	an := format.ReadU64(rec, format.InoANExtentsOffset)
	lit := rec[format.InodeLiteralOffset:]

	switch i.Data.Format {
	case format.ForkFormatDev:
	case format.ForkFormatInline:
		if i.Size > dataLiteralSize {
			return nil, fmt.Errorf("%w: inode %d inline size %d", ErrBadInode, ino, i.Size)
		}
		i.Data.InlineData = append([]byte(nil), lit[:i.Size]...)
	case format.ForkFormatExtents:
		if dn > maxInlineDataExtents {
			return nil, fmt.Errorf("%w: inode %d: %d literal data extents", ErrBadInode, ino, dn)
		}
		i.Data.Extents = readPacked(lit[:dataLiteralSize], dn)
	default:
	}
	if i.Attr.Format == format.ForkFormatExtents {
		if an > maxInlineAttrExtents {
			return nil, fmt.Errorf("%w: inode %d: %d literal attr extents", ErrBadInode, ino, an)
		}
		i.Attr.Extents = readPacked(lit[dataLiteralSize:], an)
	}

	// Chained forks share one overflow stream: data records first.
	if i.Data.Format == format.ForkFormatChained || i.Attr.Format == format.ForkFormatChained {
		first := format.ReadU64(rec, format.InoExtBlockOffset)
		chain, stream, err := readChain(img, first)
		if err != nil {
			return nil, fmt.Errorf("inode %d: %w", ino, err)
		}
		i.ExtChain = chain
		if i.Data.Format == format.ForkFormatChained {
			if uint64(len(stream)) < dn {
				return nil, fmt.Errorf("%w: inode %d: chain holds %d of %d data records", ErrBadInode, ino, len(stream), dn)
			}
			i.Data.Extents = stream[:dn]
			stream = stream[dn:]
		}
		if i.Attr.Format == format.ForkFormatChained {
			if uint64(len(stream)) < an {
				return nil, fmt.Errorf("%w: inode %d: chain holds %d of %d attr records", ErrBadInode, ino, len(stream), an)
			}
			i.Attr.Extents = stream[:an]
		}
	}
	return i, nil
}

// FlushDirty implements txn.Object: serialize the indicated fields into
// the backing table block (and overflow chain) and queue the bytes for
// write. Commit path only.
func (i *Inode) FlushDirty(img *meta.Image, fields txn.InodeFields) error {
	blk, off, err := tableSlot(img, i.Ino)
	if err != nil {
		return err
	}
	b, err := img.Get(blk, 1)
	if err != nil {
		return err
	}
	defer img.Release(b)
	rec := b.Data[off : off+format.InodeSize]

	rec[0], rec[1] = format.InodeMagic[0], format.InodeMagic[1]
	rec[format.InoVersionOffset] = 1

	if fields&txn.LogCore != 0 {
		format.PutU16(rec, format.InoModeOffset, i.Mode)
		format.PutU32(rec, format.InoNlinkOffset, i.Nlink)
		format.PutU32(rec, format.InoFlagsOffset, i.Flags)
		format.PutU64(rec, format.InoSizeOffset, i.Size)
		format.PutU64(rec, format.InoNBlocksOffset, i.NBlocks)
		format.PutU32(rec, format.InoGenOffset, i.Gen)
	}

	if fields&(txn.LogData|txn.LogAttr) != 0 {
		if err := i.writeForks(img, rec); err != nil {
			return err
		}
	}

	rec[format.InoForkoffOffset] = forkoffUnits
	return img.WriteBack(b, off, off+format.InodeSize-1)
}

// writeForks serializes both forks: fork representation is decided as a
// unit, so a data spill and an attr spill share the chain consistently.
func (i *Inode) writeForks(img *meta.Image, rec []byte) error {
	lit := rec[format.InodeLiteralOffset:]
	dataLit := lit[:dataLiteralSize]
	attrLit := lit[dataLiteralSize:]

	var spill []bmap.Mapping

	switch i.Data.Format {
	case format.ForkFormatDev:
		rec[format.InoDFormatOffset] = format.ForkFormatDev
		format.PutU64(rec, format.InoDNExtentsOffset, 0)
	case format.ForkFormatInline:
		if len(i.Data.InlineData) > dataLiteralSize {
			return fmt.Errorf("%w: inode %d: %d bytes", ErrInlineTooBig, i.Ino, len(i.Data.InlineData))
		}
		rec[format.InoDFormatOffset] = format.ForkFormatInline
		format.PutU64(rec, format.InoDNExtentsOffset, 0)
		for j := range dataLit {
			dataLit[j] = 0
		}
		copy(dataLit, i.Data.InlineData)
	default:
		n := len(i.Data.Extents)
		format.PutU64(rec, format.InoDNExtentsOffset, uint64(n))
		if n <= maxInlineDataExtents {
			rec[format.InoDFormatOffset] = format.ForkFormatExtents
			i.Data.Format = format.ForkFormatExtents
			writePacked(dataLit, i.Data.Extents)
		} else {
			rec[format.InoDFormatOffset] = format.ForkFormatChained
			i.Data.Format = format.ForkFormatChained
			spill = append(spill, i.Data.Extents...)
		}
	}

	n := len(i.Attr.Extents)
	format.PutU64(rec, format.InoANExtentsOffset, uint64(n))
	if n <= maxInlineAttrExtents {
		rec[format.InoAFormatOffset] = format.ForkFormatExtents
		i.Attr.Format = format.ForkFormatExtents
		writePacked(attrLit, i.Attr.Extents)
	} else {
		rec[format.InoAFormatOffset] = format.ForkFormatChained
		i.Attr.Format = format.ForkFormatChained
		spill = append(spill, i.Attr.Extents...)
	}

	if len(spill) == 0 {
		format.PutU64(rec, format.InoExtBlockOffset, format.NullBlock)
		return nil
	}
	if len(i.ExtChain) == 0 {
		return fmt.Errorf("%w: inode %d: %d records to spill", ErrOverflowShort, i.Ino, len(spill))
	}
	if err := writeChain(img, i.ExtChain, spill); err != nil {
		return fmt.Errorf("inode %d: %w", i.Ino, err)
	}
	format.PutU64(rec, format.InoExtBlockOffset, i.ExtChain[0])
	return nil
}

// ChainBlocksNeeded returns how many overflow blocks the current fork
// contents require when serialized.
func (i *Inode) ChainBlocksNeeded(img *meta.Image) int {
	var spill int
	if len(i.Data.Extents) > maxInlineDataExtents {
		spill += len(i.Data.Extents)
	}
	if len(i.Attr.Extents) > maxInlineAttrExtents {
		spill += len(i.Attr.Extents)
	}
	if spill == 0 {
		return 0
	}
	per := chainRecordsPerBlock(img)
	return (spill + per - 1) / per
}

// TryShrinkInline demotes chained forks back to the literal area when the
// mappings fit again and returns the overflow blocks that are no longer
// needed. The caller owns freeing them.
func (i *Inode) TryShrinkInline(img *meta.Image) (freed []uint64, changed bool) {
	if i.Data.Format == format.ForkFormatChained && len(i.Data.Extents) <= maxInlineDataExtents {
		i.Data.Format = format.ForkFormatExtents
		changed = true
	}
	if i.Attr.Format == format.ForkFormatChained && len(i.Attr.Extents) <= maxInlineAttrExtents {
		i.Attr.Format = format.ForkFormatExtents
		changed = true
	}
	need := i.ChainBlocksNeeded(img)
	if len(i.ExtChain) > need {
		freed = i.ExtChain[need:]
		i.ExtChain = i.ExtChain[:need]
	}
	return freed, changed
}

func chainRecordsPerBlock(img *meta.Image) int {
	return (img.BlockSize() - format.ExtListDataOffset) / format.ExtentRecordSize
}

func readPacked(b []byte, n uint64) []bmap.Mapping {
	out := make([]bmap.Mapping, 0, n)
	for j := uint64(0); j < n; j++ {
		so, sb, bc, uw := format.ReadExtent(b, int(j)*format.ExtentRecordSize)
		out = append(out, bmap.Mapping{StartOff: so, StartBlock: sb, BlockCount: bc, Unwritten: uw})
	}
	return out
}

func writePacked(b []byte, ms []bmap.Mapping) {
	for j := range b {
		b[j] = 0
	}
	for j, m := range ms {
		format.PutExtent(b, j*format.ExtentRecordSize, m.StartOff, m.StartBlock, m.BlockCount, m.Unwritten)
	}
}

// readChain walks the overflow chain from first, returning the block list
// and the record stream.
func readChain(img *meta.Image, first uint64) ([]uint64, []bmap.Mapping, error) {
	var chain []uint64
	var stream []bmap.Mapping
	per := chainRecordsPerBlock(img)
	for blk := first; blk != format.NullBlock; {
		b, err := img.Get(blk, 1)
		if err != nil {
			return nil, nil, err
		}
		if !bytes.Equal(b.Data[:4], format.ExtListMagic) {
			img.Release(b)
			return nil, nil, fmt.Errorf("%w: overflow block %d magic %q", ErrBadInode, blk, b.Data[:4])
		}
		n := format.ReadU32(b.Data, format.ExtListCountOffset)
		if int(n) > per {
			img.Release(b)
			return nil, nil, fmt.Errorf("%w: overflow block %d claims %d records", ErrBadInode, blk, n)
		}
		stream = append(stream, readPacked(b.Data[format.ExtListDataOffset:], uint64(n))...)
		next := format.ReadU64(b.Data, format.ExtListNextOffset)
		img.Release(b)
		chain = append(chain, blk)
		if len(chain) > 1<<20 {
			return nil, nil, fmt.Errorf("%w: overflow chain loop at block %d", ErrBadInode, blk)
		}
		blk = next
	}
	return chain, stream, nil
}

// writeChain packs the record stream across the chain blocks, linking
// them in order and zero-counting any leftover links.
func writeChain(img *meta.Image, chain []uint64, stream []bmap.Mapping) error {
	per := chainRecordsPerBlock(img)
	need := (len(stream) + per - 1) / per
	if need > len(chain) {
		return fmt.Errorf("%w: need %d overflow blocks, have %d", ErrOverflowShort, need, len(chain))
	}
	for ci, blk := range chain {
		b, err := img.Get(blk, 1)
		if err != nil {
			return err
		}
		copy(b.Data, format.ExtListMagic)
		take := len(stream)
		if take > per {
			take = per
		}
		format.PutU32(b.Data, format.ExtListCountOffset, uint32(take))
		next := uint64(format.NullBlock)
		if ci+1 < len(chain) {
			next = chain[ci+1]
		}
		format.PutU64(b.Data, format.ExtListNextOffset, next)
		writePacked(b.Data[format.ExtListDataOffset:format.ExtListDataOffset+per*format.ExtentRecordSize], stream[:take])
		stream = stream[take:]
		err = img.WriteBack(b, 0, len(b.Data)-1)
		img.Release(b)
		if err != nil {
			return err
		}
	}
	return nil
}

// Retire zeroes ino's table slot, returning it to the free pool. The
// caller has already unlinked the inode from whatever named it and
// dropped every cache reference.
func Retire(img *meta.Image, ino uint64) error {
	blk, off, err := tableSlot(img, ino)
	if err != nil {
		return err
	}
	b, err := img.Get(blk, 1)
	if err != nil {
		return err
	}
	defer img.Release(b)
	rec := b.Data[off : off+format.InodeSize]
	for i := range rec {
		rec[i] = 0
	}
	return img.WriteBack(b, off, off+format.InodeSize-1)
}

// FindFree scans the inode table for the first unclaimed slot.
func FindFree(img *meta.Image) (uint64, error) {
	sb := img.Super()
	perBlock := uint64(img.BlockSize()) / format.InodeSize
	total := uint64(sb.InoBlocks()) * perBlock
	for ino := uint64(0); ino < total; ino++ {
		blk, off, err := tableSlot(img, ino)
		if err != nil {
			return 0, err
		}
		b, err := img.Get(blk, 1)
		if err != nil {
			return 0, err
		}
		free := b.Data[off] != format.InodeMagic[0] || b.Data[off+1] != format.InodeMagic[1]
		img.Release(b)
		if free {
			return ino, nil
		}
	}
	return 0, ErrNoSlot
}
