// Package format houses the low-level layout of the metakit metadata image.
// The goal is to keep encoding focused, allocation-free where possible, and
// independent from the public API so higher-level packages can orchestrate
// the data in a more ergonomic form.
//
// The image is a flat array of fixed-size blocks. Block 0 is the superblock;
// a contiguous run of blocks holds the inode table; everything else is data
// space managed by the free-space accounting layer. All integers are
// little-endian.
package format

var (
	// SuperMagic is the four-byte signature at the start of every image.
	// Layout:
	//   0x00  'm' 'k' 's' 'b'
	SuperMagic = []byte{'m', 'k', 's', 'b'}

	// ExtListMagic identifies an overflow extent-list block, used when an
	// inode's mappings no longer fit the inode literal area.
	ExtListMagic = []byte{'m', 'k', 'x', 'l'}

	// ImetaMagic identifies the metadata-inode registry block.
	ImetaMagic = []byte{'m', 'k', 'm', 'd'}

	// InodeMagic identifies an inode record within the inode table.
	InodeMagic = []byte{'i', 'n'}
)

const (
	// SuperVersion is the only on-disk version this code reads or writes.
	SuperVersion = 1

	// MinBlockSize and MaxBlockSize bound the image block size. Both are
	// powers of two; the superblock always occupies exactly one block.
	MinBlockSize = 512
	MaxBlockSize = 65536

	// DefaultBlockSize matches the common page size.
	DefaultBlockSize = 4096

	// InodeSize is the on-disk size of one inode record.
	InodeSize = 256

	// InodeLiteralOffset is where the fork literal area starts within an
	// inode record. Inline payloads and packed extent records live there.
	InodeLiteralOffset = 0x40

	// InodeLiteralSize is the byte size of the fork literal area.
	InodeLiteralSize = InodeSize - InodeLiteralOffset

	// ExtentRecordSize is the packed size of one extent mapping.
	ExtentRecordSize = 16

	// MaxExtentLen is the largest block count a single packed mapping can
	// carry (21 bits of length).
	MaxExtentLen = (1 << 21) - 1

	// SuperChecksumOffset is where the XOR checksum of the superblock's
	// first SuperChecksumRegion bytes is stored.
	SuperChecksumOffset = 0x1FC

	// SuperChecksumRegion is the number of superblock bytes covered by the
	// checksum (127 little-endian dwords).
	SuperChecksumRegion = 508

	// SuperChecksumDwords is the dword count of the checksum region.
	SuperChecksumDwords = SuperChecksumRegion / 4
)

// Superblock field offsets within block 0.
const (
	SBMagicOffset      = 0x000 // 4 bytes, "mksb"
	SBVersionOffset    = 0x004 // uint32
	SBBlockSizeOffset  = 0x008 // uint32
	SBDBlocksOffset    = 0x00C // uint64, total data blocks in the image
	SBRExtentsOffset   = 0x014 // uint64, total realtime extents
	SBUUIDOffset       = 0x01C // 16 bytes
	SBLabelOffset      = 0x02C // 16 bytes, NUL padded
	SBICountOffset     = 0x03C // uint64, allocated inodes
	SBIFreeOffset      = 0x044 // uint64, free inodes
	SBFDBlocksOffset   = 0x04C // uint64, free data blocks
	SBFRExtentsOffset  = 0x054 // uint64, free realtime extents
	SBInoBlockOffset   = 0x05C // uint32, first inode-table block
	SBInoBlocksOffset  = 0x060 // uint32, inode-table length in blocks
	SBInodeSizeOffset  = 0x064 // uint32
	SBCommitSeqOffset  = 0x068 // uint64, bumped once per dirty commit
	SBFlagsOffset      = 0x070 // uint32
	SBLogBlocksOffset  = 0x074 // uint32, symbolic log-space budget
	SBImetaBlockOffset = 0x078 // uint64, metadata-inode registry block (0 = none)

	SBUUIDSize  = 16
	SBLabelSize = 16
)

// Superblock feature flags.
const (
	// SBFlagReflink marks images whose blocks may be shared between owners
	// and therefore carry rmap/refcount indexes.
	SBFlagReflink = 1 << 0

	// SBFlagLargeExtents permits inodes to upgrade to 64-bit-wide extent
	// counters.
	SBFlagLargeExtents = 1 << 1
)

// Inode record field offsets.
const (
	InoMagicOffset     = 0x00 // uint16, "in"
	InoModeOffset      = 0x02 // uint16
	InoVersionOffset   = 0x04 // uint8
	InoDFormatOffset   = 0x05 // uint8, data fork format
	InoAFormatOffset   = 0x06 // uint8, attr fork format
	InoNlinkOffset     = 0x08 // uint32
	InoFlagsOffset     = 0x0C // uint32
	InoSizeOffset      = 0x10 // uint64, bytes
	InoNBlocksOffset   = 0x18 // uint64, blocks owned by all forks
	InoDNExtentsOffset = 0x20 // uint64
	InoANExtentsOffset = 0x28 // uint64
	InoForkoffOffset   = 0x30 // uint8, attr fork offset in 8-byte units
	InoGenOffset       = 0x34 // uint32
	InoExtBlockOffset  = 0x38 // uint64, first overflow extent-list block
)

// Inode flags.
const (
	// InoFlagReflink marks an inode whose blocks may be shared with another
	// owner. Conceptually swapped along with the mappings by a full-range
	// extent swap.
	InoFlagReflink = 1 << 0

	// InoFlagRealtime places the inode's data on the realtime subvolume.
	InoFlagRealtime = 1 << 1

	// InoFlagLargeExtents widens this inode's extent counters.
	InoFlagLargeExtents = 1 << 2
)

// Fork formats. Dev inodes carry no mappings; inline forks keep payload
// bytes directly in the literal area; extents forks keep packed mappings
// there; chained forks spill mappings to overflow extent-list blocks.
const (
	ForkFormatDev     = 0
	ForkFormatInline  = 1
	ForkFormatExtents = 2
	ForkFormatChained = 3
)

// Extent-count representation limits. Small counters are the default;
// inodes on images with SBFlagLargeExtents may upgrade.
const (
	MaxDataExtentsSmall = (1 << 31) - 1
	MaxAttrExtentsSmall = (1 << 15) - 1
	MaxDataExtentsLarge = (1 << 47) - 1
	MaxAttrExtentsLarge = (1 << 31) - 1
)

// Overflow extent-list block field offsets.
const (
	ExtListMagicOffset = 0x00 // 4 bytes, "mkxl"
	ExtListCountOffset = 0x04 // uint32, records in this block
	ExtListNextOffset  = 0x08 // uint64, next block in chain (0 = end)
	ExtListDataOffset  = 0x10 // packed extent records
)

// Metadata-inode registry block field offsets. The registry is a single
// block holding fixed-size slots of (name, ino) pairs.
const (
	ImetaMagicOffset = 0x00 // 4 bytes, "mkmd"
	ImetaCountOffset = 0x04 // uint32, used slots
	ImetaDataOffset  = 0x10 // slot array

	ImetaSlotSize     = 40 // 32-byte name + uint64 ino
	ImetaSlotNameSize = 32
)

// NullBlock is the "no block" sentinel for chain links and registry slots.
const NullBlock = 0
