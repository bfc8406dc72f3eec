package meta

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/metakit/internal/format"
)

const (
	// checksumAllOnes and checksumAllZeros collide with values legacy
	// tooling used as in-band sentinels; they are remapped on write.
	checksumAllOnes             = 0xFFFFFFFF
	checksumAllOnesReplacement  = 0xFFFFFFFE
	checksumAllZeros            = 0x00000000
	checksumAllZerosReplacement = 0x00000001
)

// Superblock is a zero-copy accessor view over block 0 of the image.
// All accessors read and write directly into the mapped bytes; callers are
// responsible for marking the superblock dirty and re-checksumming after
// mutation (ApplyDeltas does both).
type Superblock struct {
	raw []byte // len >= MinBlockSize
}

// isSuper is a fast, zero-alloc check for the superblock signature.
func isSuper(b []byte) bool {
	n := len(format.SuperMagic)
	if len(b) < n {
		return false
	}
	return bytes.Equal(b[:n], format.SuperMagic)
}

// ParseSuperblock validates the signature and returns a superblock view.
func ParseSuperblock(b []byte) (*Superblock, error) {
	if len(b) < format.MinBlockSize {
		return nil, fmt.Errorf("%w: image too small for superblock (%d bytes)", ErrBadSuper, len(b))
	}
	if !isSuper(b) {
		return nil, fmt.Errorf("%w: bad signature", ErrBadSuper)
	}
	return &Superblock{raw: b[:format.MinBlockSize]}, nil
}

// Raw returns the raw bytes of the superblock view.
func (sb *Superblock) Raw() []byte { return sb.raw }

// Version returns the on-disk format version.
func (sb *Superblock) Version() uint32 { return format.ReadU32(sb.raw, format.SBVersionOffset) }

// BlockSize returns the image block size in bytes.
func (sb *Superblock) BlockSize() uint32 { return format.ReadU32(sb.raw, format.SBBlockSizeOffset) }

// DBlocks returns the total data-block count of the image.
func (sb *Superblock) DBlocks() uint64 { return format.ReadU64(sb.raw, format.SBDBlocksOffset) }

// RExtents returns the total realtime-extent count.
func (sb *Superblock) RExtents() uint64 { return format.ReadU64(sb.raw, format.SBRExtentsOffset) }

// UUID returns the image identity.
func (sb *Superblock) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], sb.raw[format.SBUUIDOffset:format.SBUUIDOffset+format.SBUUIDSize])
	return u
}

// SetUUID writes the image identity.
func (sb *Superblock) SetUUID(u uuid.UUID) {
	copy(sb.raw[format.SBUUIDOffset:format.SBUUIDOffset+format.SBUUIDSize], u[:])
}

// Label returns the human-readable image label.
//
// Labels are NUL-padded. Legacy tools wrote them in Latin-1; when the bytes
// are not valid UTF-8 they are decoded through ISO 8859-1 instead of being
// mangled.
func (sb *Superblock) Label() string {
	raw := sb.raw[format.SBLabelOffset : format.SBLabelOffset+format.SBLabelSize]
	raw = bytes.TrimRight(raw, "\x00")
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// Latin-1 decoding cannot actually fail; fall back to raw.
		return string(raw)
	}
	return string(decoded)
}

// SetLabel writes the label, truncated to the on-disk field size.
func (sb *Superblock) SetLabel(label string) {
	field := sb.raw[format.SBLabelOffset : format.SBLabelOffset+format.SBLabelSize]
	for i := range field {
		field[i] = 0
	}
	copy(field, label)
}

// ICount returns the allocated-inode count.
func (sb *Superblock) ICount() uint64 { return format.ReadU64(sb.raw, format.SBICountOffset) }

// SetICount writes the allocated-inode count.
func (sb *Superblock) SetICount(v uint64) { format.PutU64(sb.raw, format.SBICountOffset, v) }

// IFree returns the free-inode count.
func (sb *Superblock) IFree() uint64 { return format.ReadU64(sb.raw, format.SBIFreeOffset) }

// SetIFree writes the free-inode count.
func (sb *Superblock) SetIFree(v uint64) { format.PutU64(sb.raw, format.SBIFreeOffset, v) }

// FDBlocks returns the free data-block count.
func (sb *Superblock) FDBlocks() uint64 { return format.ReadU64(sb.raw, format.SBFDBlocksOffset) }

// SetFDBlocks writes the free data-block count.
func (sb *Superblock) SetFDBlocks(v uint64) { format.PutU64(sb.raw, format.SBFDBlocksOffset, v) }

// FRExtents returns the free realtime-extent count.
func (sb *Superblock) FRExtents() uint64 { return format.ReadU64(sb.raw, format.SBFRExtentsOffset) }

// SetFRExtents writes the free realtime-extent count.
func (sb *Superblock) SetFRExtents(v uint64) { format.PutU64(sb.raw, format.SBFRExtentsOffset, v) }

// InoBlock returns the first inode-table block.
func (sb *Superblock) InoBlock() uint32 { return format.ReadU32(sb.raw, format.SBInoBlockOffset) }

// InoBlocks returns the inode-table length in blocks.
func (sb *Superblock) InoBlocks() uint32 { return format.ReadU32(sb.raw, format.SBInoBlocksOffset) }

// InodeSize returns the on-disk inode record size.
func (sb *Superblock) InodeSize() uint32 { return format.ReadU32(sb.raw, format.SBInodeSizeOffset) }

// CommitSeq returns the commit sequence, bumped once per dirty commit.
func (sb *Superblock) CommitSeq() uint64 { return format.ReadU64(sb.raw, format.SBCommitSeqOffset) }

// SetCommitSeq writes the commit sequence.
func (sb *Superblock) SetCommitSeq(v uint64) { format.PutU64(sb.raw, format.SBCommitSeqOffset, v) }

// Flags returns the feature flags.
func (sb *Superblock) Flags() uint32 { return format.ReadU32(sb.raw, format.SBFlagsOffset) }

// HasReflink reports whether blocks may be shared between owners.
func (sb *Superblock) HasReflink() bool { return sb.Flags()&format.SBFlagReflink != 0 }

// HasLargeExtents reports whether inodes may upgrade to wide extent counters.
func (sb *Superblock) HasLargeExtents() bool { return sb.Flags()&format.SBFlagLargeExtents != 0 }

// LogBlocks returns the symbolic log-space budget.
func (sb *Superblock) LogBlocks() uint32 { return format.ReadU32(sb.raw, format.SBLogBlocksOffset) }

// ImetaBlock returns the metadata-inode registry block, 0 if absent.
func (sb *Superblock) ImetaBlock() uint64 { return format.ReadU64(sb.raw, format.SBImetaBlockOffset) }

// SetImetaBlock writes the metadata-inode registry block.
func (sb *Superblock) SetImetaBlock(v uint64) { format.PutU64(sb.raw, format.SBImetaBlockOffset, v) }

// Checksum returns the stored checksum dword.
func (sb *Superblock) Checksum() uint32 { return format.ReadU32(sb.raw, format.SuperChecksumOffset) }

// Rechecksum recomputes and stores the superblock checksum.
func (sb *Superblock) Rechecksum() {
	format.PutU32(sb.raw, format.SuperChecksumOffset, calculateChecksum(sb.raw))
}

// Validate checks version, geometry, and checksum against the mapped size.
func (sb *Superblock) Validate(fileSize int64) error {
	if sb.Version() != format.SuperVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadSuper, sb.Version())
	}
	bs := sb.BlockSize()
	if bs < format.MinBlockSize || bs > format.MaxBlockSize || bs&(bs-1) != 0 {
		return fmt.Errorf("%w: block size %d", ErrBadSuper, bs)
	}
	if sb.InodeSize() != format.InodeSize {
		return fmt.Errorf("%w: inode size %d", ErrBadSuper, sb.InodeSize())
	}
	want := int64(sb.DBlocks()) * int64(bs)
	if fileSize < want {
		return fmt.Errorf("%w: image truncated (%d bytes, geometry wants %d)", ErrBadSuper, fileSize, want)
	}
	inoEnd := uint64(sb.InoBlock()) + uint64(sb.InoBlocks())
	if sb.InoBlock() == 0 || inoEnd > sb.DBlocks() {
		return fmt.Errorf("%w: inode table [%d,+%d) outside image", ErrBadSuper, sb.InoBlock(), sb.InoBlocks())
	}
	if sb.FDBlocks() > sb.DBlocks() {
		return fmt.Errorf("%w: free blocks %d exceed total %d", ErrBadSuper, sb.FDBlocks(), sb.DBlocks())
	}
	if got, want := sb.Checksum(), calculateChecksum(sb.raw); got != want {
		return fmt.Errorf("%w: checksum 0x%08X, want 0x%08X", ErrBadSuper, got, want)
	}
	return nil
}

// calculateChecksum computes the superblock checksum: the XOR of the first
// 127 dwords (508 bytes). The checksum field itself is not included. The
// all-zeros and all-ones results are remapped so they never appear on disk.
func calculateChecksum(raw []byte) uint32 {
	if len(raw) < format.SuperChecksumRegion {
		return 0
	}

	var checksum uint32
	for i := 0; i < format.SuperChecksumDwords; i++ {
		checksum ^= format.ReadU32(raw, i*4)
	}

	switch checksum {
	case checksumAllZeros:
		return checksumAllZerosReplacement
	case checksumAllOnes:
		return checksumAllOnesReplacement
	}
	return checksum
}
