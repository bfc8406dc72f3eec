package dirty

import (
	"context"
	"sort"
	"sync"
)

const (
	// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
	// This reduces allocations during typical workloads.
	defaultRangeCapacity = 64

	// standardPageSize is the typical OS page size (4KB).
	standardPageSize = 4096
)

// FlushMode controls durability guarantees for transaction commits.
type FlushMode int

const (
	// FlushAuto provides safe defaults for most use cases:
	// - msync() dirty data pages
	// - fdatasync() after the superblock write
	// - On macOS, uses F_FULLFSYNC for maximum durability.
	FlushAuto FlushMode = iota

	// FlushDataOnly only flushes dirty data pages via msync().
	// The caller is responsible for calling fdatasync() later.
	// Use this when batching multiple transactions together.
	FlushDataOnly

	// FlushFull provides ultra-safe durability:
	// - msync() dirty data pages
	// - msync() the superblock
	// - fdatasync() file descriptor
	// - On macOS, uses F_FULLFSYNC
	// Use this for power-loss sensitive workflows.
	FlushFull
)

// Range represents a dirty byte range (absolute image offsets).
type Range struct {
	Off int64 // Absolute offset in the image
	Len int64 // Length in bytes
}

// Tracker accumulates dirty ranges and flushes them efficiently.
//
// Safe for concurrent use: Add may run while another goroutine is inside
// FlushData. Concurrent flushes serialize; a range added during a flush
// survives into the next one.
type Tracker struct {
	m         Mapped
	mu        sync.Mutex
	ranges    []Range // Dirty data ranges (coalesced at flush time)
	pageSize  int64   // OS page size (typically 4096)
	superSize int64   // Bytes covered by FlushSuper (one image block)
}

// NewTracker creates a dirty tracker for the given mapped image.
//
// superSize is the image block size: FlushSuper flushes exactly the first
// superSize bytes, and FlushData skips any range touching them.
func NewTracker(m Mapped, superSize int) *Tracker {
	return &Tracker{
		m:         m,
		ranges:    make([]Range, 0, defaultRangeCapacity),
		pageSize:  standardPageSize,
		superSize: int64(superSize),
	}
}

// Add records a dirty range.
//
// The range will be page-aligned and coalesced with other ranges at flush
// time. This method is very fast as it only appends to a slice.
func (t *Tracker) Add(off, length int) {
	t.mu.Lock()
	t.ranges = append(t.ranges, Range{
		Off: int64(off),
		Len: int64(length),
	})
	t.mu.Unlock()
}

// FlushData flushes all dirty data ranges (not the superblock) to disk.
//
// This method:
//  1. Coalesces all ranges into page-aligned, non-overlapping ranges
//  2. Flushes each range using msync() (Unix) or FlushViewOfFile (Windows)
//  3. Clears the ranges slice
//
// The superblock is NOT flushed even if a tracked range covers it.
//
// The context can be used to cancel the flush before it starts. If cancelled
// mid-way, some ranges may have been flushed while others have not.
func (t *Tracker) FlushData(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.ranges) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := t.m.Bytes()
	if len(data) == 0 {
		return nil
	}

	if err := t.flushRanges(data); err != nil {
		return err
	}

	t.ranges = t.ranges[:0]
	return nil
}

// FlushSuper flushes the superblock and optionally syncs the descriptor.
//
// This method:
//  1. Flushes the first image block using msync()
//  2. Calls fdatasync() based on the FlushMode:
//     - FlushAuto: fdatasync()
//     - FlushDataOnly: no fdatasync()
//     - FlushFull: fdatasync() + F_FULLFSYNC on macOS
//
// If cancelled after the superblock is flushed but before fdatasync
// completes, the superblock may be inconsistent with the data pages on disk.
func (t *Tracker) FlushSuper(ctx context.Context, mode FlushMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := t.m.Bytes()
	if len(data) == 0 {
		return nil
	}

	superLen := int(t.superSize)
	if superLen > len(data) {
		superLen = len(data)
	}
	if err := msync(data[:superLen]); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if mode == FlushDataOnly {
		return nil
	}

	fd := t.m.FD()
	fullfsync := mode == FlushFull
	return fdatasync(fd, fullfsync)
}

// Reset clears all tracked ranges.
//
// Used when cancelling a transaction that never reached flush.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.ranges = t.ranges[:0]
	t.mu.Unlock()
}

// DebugRanges returns the current dirty ranges (for testing/debugging).
//
// The returned ranges are the raw, uncoalesced ranges.
func (t *Tracker) DebugRanges() []Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]Range, len(t.ranges))
	copy(result, t.ranges)
	return result
}

// DebugCoalescedRanges returns the coalesced dirty ranges (for
// testing/debugging). These are page-aligned, sorted, and merged ranges
// that will be flushed.
func (t *Tracker) DebugCoalescedRanges() []Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.coalesce()
}

// coalesce page-aligns all ranges, sorts them, and merges
// overlapping/adjacent ranges. Returns a new slice of non-overlapping,
// sorted ranges. Caller holds t.mu.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	// Page-align all ranges
	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize

		end := r.Off + r.Len
		if end%t.pageSize != 0 {
			end = ((end / t.pageSize) + 1) * t.pageSize
		}

		aligned[i] = Range{
			Off: start,
			Len: end - start,
		}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	// Merge overlapping/adjacent ranges
	merged := make([]Range, 0, len(aligned))
	current := aligned[0]

	for i := 1; i < len(aligned); i++ {
		next := aligned[i]

		if next.Off <= current.Off+current.Len {
			end := current.Off + current.Len
			nextEnd := next.Off + next.Len
			if nextEnd > end {
				end = nextEnd
			}
			current.Len = end - current.Off
		} else {
			merged = append(merged, current)
			current = next
		}
	}

	merged = append(merged, current)

	return merged
}
