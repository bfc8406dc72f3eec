package meta

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/joshuapare/metakit/internal/format"
	"github.com/joshuapare/metakit/internal/mmfile"
	"github.com/joshuapare/metakit/meta/dirty"
)

// Options controls how an image is opened.
// The zero value is a usable default.
type Options struct {
	// FlushMode selects the durability level for committing transactions.
	FlushMode dirty.FlushMode
}

// Geometry describes a new image for Create.
type Geometry struct {
	// BlockSize in bytes; 0 means format.DefaultBlockSize. Must be a
	// power of two within [MinBlockSize, MaxBlockSize].
	BlockSize uint32

	// DBlocks is the total block count, superblock and inode table
	// included.
	DBlocks uint64

	// RExtents is the realtime-extent count; 0 means no realtime
	// subvolume.
	RExtents uint64

	// InodeBlocks is the inode-table length in blocks; 0 means one block.
	InodeBlocks uint32

	// LogBlocks is the symbolic log-space budget; 0 means a quarter of
	// DBlocks, capped at 2048.
	LogBlocks uint32

	// Label is the human-readable image label, truncated to 16 bytes.
	Label string

	// Flags are the superblock feature flags (SBFlagReflink etc.).
	Flags uint32
}

// Image is an opened metadata image plus its mount-wide state: summary
// counters, in-flight reservations, the dirty tracker, the buffer cache,
// and the intent log.
//
// The bulk of each transaction's work is thread-confined; the image mutex
// guards only the shared summary state (counters, reservations, buffers)
// so concurrent transactions compose by simple addition.
type Image struct {
	mu      sync.Mutex
	path    string
	data    []byte
	fd      int
	cleanup func() error

	sb      *Superblock
	tracker *dirty.Tracker
	mode    dirty.FlushMode

	bufs map[uint64]*Buf // live buffers keyed by first block

	// In-flight reservations. Available space is the persistent counter
	// minus these; they never touch the superblock.
	resBlocks uint64
	resRT     uint64
	resLog    uint32

	ilog *IntentLog
}

// Open maps the image at path read-write and validates its superblock.
func Open(path string, opts Options) (*Image, error) {
	data, fd, cleanup, err := mmfile.MapRW(path)
	if err != nil {
		return nil, fmt.Errorf("meta: map %q: %w", path, err)
	}

	sb, err := ParseSuperblock(data)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := sb.Validate(int64(len(data))); err != nil {
		cleanup()
		return nil, err
	}

	img := &Image{
		path:    path,
		data:    data,
		fd:      fd,
		cleanup: cleanup,
		sb:      sb,
		mode:    opts.FlushMode,
		bufs:    make(map[uint64]*Buf),
		ilog:    NewIntentLog(),
	}
	img.tracker = dirty.NewTracker(img, int(sb.BlockSize()))
	return img, nil
}

// Create writes a fresh image at path and opens it.
//
// The layout is: block 0 superblock, blocks [1, 1+InodeBlocks) inode table,
// everything after that free data space. Counters start at capacity minus
// that overhead.
func Create(path string, g Geometry, opts Options) (*Image, error) {
	bs := g.BlockSize
	if bs == 0 {
		bs = format.DefaultBlockSize
	}
	if bs < format.MinBlockSize || bs > format.MaxBlockSize || bs&(bs-1) != 0 {
		return nil, fmt.Errorf("%w: block size %d", ErrBadGeometry, bs)
	}
	inoBlocks := g.InodeBlocks
	if inoBlocks == 0 {
		inoBlocks = 1
	}
	overhead := uint64(1) + uint64(inoBlocks)
	if g.DBlocks < overhead+1 {
		return nil, fmt.Errorf("%w: %d blocks cannot hold superblock and inode table", ErrBadGeometry, g.DBlocks)
	}
	logBlocks := g.LogBlocks
	if logBlocks == 0 {
		logBlocks = uint32(g.DBlocks / 4)
		if logBlocks > 2048 {
			logBlocks = 2048
		}
		if logBlocks == 0 {
			logBlocks = 1
		}
	}

	data := make([]byte, g.DBlocks*uint64(bs))
	copy(data, format.SuperMagic)
	format.PutU32(data, format.SBVersionOffset, format.SuperVersion)
	format.PutU32(data, format.SBBlockSizeOffset, bs)
	format.PutU64(data, format.SBDBlocksOffset, g.DBlocks)
	format.PutU64(data, format.SBRExtentsOffset, g.RExtents)

	sb := &Superblock{raw: data[:format.MinBlockSize]}
	sb.SetUUID(uuid.New())
	sb.SetLabel(g.Label)
	sb.SetICount(0)
	inodesPerBlock := uint64(bs) / format.InodeSize
	sb.SetIFree(uint64(inoBlocks) * inodesPerBlock)
	sb.SetFDBlocks(g.DBlocks - overhead)
	sb.SetFRExtents(g.RExtents)
	format.PutU32(data, format.SBInoBlockOffset, 1)
	format.PutU32(data, format.SBInoBlocksOffset, inoBlocks)
	format.PutU32(data, format.SBInodeSizeOffset, format.InodeSize)
	sb.SetCommitSeq(0)
	format.PutU32(data, format.SBFlagsOffset, g.Flags)
	format.PutU32(data, format.SBLogBlocksOffset, logBlocks)
	sb.Rechecksum()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("meta: create %q: %w", path, err)
	}
	return Open(path, opts)
}

// Close flushes nothing and releases the mapping. Callers that want their
// mutations durable must have committed them; Close is deliberately not a
// hidden commit.
func (img *Image) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.cleanup == nil {
		return nil
	}
	err := img.cleanup()
	img.cleanup = nil
	img.data = nil
	return err
}

// Bytes returns the full mapped contents. Satisfies dirty.Mapped.
func (img *Image) Bytes() []byte { return img.data }

// FD returns the underlying file descriptor. Satisfies dirty.Mapped.
func (img *Image) FD() int { return img.fd }

// Path returns the image file path.
func (img *Image) Path() string { return img.path }

// Super returns the superblock view.
func (img *Image) Super() *Superblock { return img.sb }

// BlockSize returns the image block size in bytes.
func (img *Image) BlockSize() int { return int(img.sb.BlockSize()) }

// Tracker returns the image's dirty tracker.
func (img *Image) Tracker() *dirty.Tracker { return img.tracker }

// FlushMode returns the durability mode the image was opened with.
func (img *Image) FlushMode() dirty.FlushMode { return img.mode }

// Log returns the image's intent log.
func (img *Image) Log() *IntentLog { return img.ilog }

// blockOff returns the byte offset of blkno, or an error when the range
// falls outside the image.
func (img *Image) blockOff(blkno, count uint64) (int, error) {
	bs := uint64(img.sb.BlockSize())
	end := blkno + count
	if count == 0 || end < blkno || end > img.sb.DBlocks() {
		return 0, fmt.Errorf("%w: block range [%d,+%d) outside image", ErrCorrupt, blkno, count)
	}
	return int(blkno * bs), nil
}

// AvailableBlocks returns the free-block count minus in-flight
// reservations.
func (img *Image) AvailableBlocks() uint64 {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.sb.FDBlocks() - img.resBlocks
}

// ReserveBlocks sets aside n data blocks for a transaction. The persistent
// counter is untouched; the reservation only narrows what later callers may
// take. Fails with ErrNoSpace when fewer than n blocks are unreserved, in
// which case nothing is held.
func (img *Image) ReserveBlocks(n uint64) error {
	if n == 0 {
		return nil
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.sb.FDBlocks()-img.resBlocks < n {
		return fmt.Errorf("reserve %d blocks: %w", n, ErrNoSpace)
	}
	img.resBlocks += n
	return nil
}

// UnreserveBlocks returns n previously reserved data blocks.
func (img *Image) UnreserveBlocks(n uint64) {
	if n == 0 {
		return
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if n > img.resBlocks {
		panic(fmt.Sprintf("meta: unreserve %d blocks with only %d reserved", n, img.resBlocks))
	}
	img.resBlocks -= n
}

// ReserveRT sets aside n realtime extents; same contract as ReserveBlocks.
func (img *Image) ReserveRT(n uint64) error {
	if n == 0 {
		return nil
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.sb.FRExtents()-img.resRT < n {
		return fmt.Errorf("reserve %d rt extents: %w", n, ErrNoSpace)
	}
	img.resRT += n
	return nil
}

// UnreserveRT returns n previously reserved realtime extents.
func (img *Image) UnreserveRT(n uint64) {
	if n == 0 {
		return
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if n > img.resRT {
		panic(fmt.Sprintf("meta: unreserve %d rt extents with only %d reserved", n, img.resRT))
	}
	img.resRT -= n
}

// ReserveLog takes n blocks of the symbolic log-space budget. The budget is
// "enough or not": there is no wait queue.
func (img *Image) ReserveLog(n uint32) error {
	if n == 0 {
		return nil
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.sb.LogBlocks()-img.resLog < n {
		return fmt.Errorf("reserve %d log blocks: %w", n, ErrNoSpace)
	}
	img.resLog += n
	return nil
}

// ReleaseLog returns n blocks of log budget.
func (img *Image) ReleaseLog(n uint32) {
	if n == 0 {
		return
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if n > img.resLog {
		panic(fmt.Sprintf("meta: release %d log blocks with only %d reserved", n, img.resLog))
	}
	img.resLog -= n
}

// FlushData flushes dirty data ranges to disk.
func (img *Image) FlushData(ctx context.Context) error {
	return img.tracker.FlushData(ctx)
}

// FlushSuper flushes the superblock using the image's flush mode.
func (img *Image) FlushSuper(ctx context.Context) error {
	return img.tracker.FlushSuper(ctx, img.mode)
}
