package alloc

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Runtime debug flag for free-space logging - controlled by the
// METAKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("METAKIT_LOG_ALLOC") != ""

// extent is one free run of blocks.
type extent struct {
	start uint64
	count uint64
}

func (e extent) end() uint64 { return e.start + e.count }

// Stats holds internal free-space index statistics.
type Stats struct {
	AllocCalls       int    // Total Allocate() calls
	FreeCalls        int    // Total free calls (bounded ones included)
	SplitCount       int    // Allocations that split a free extent
	CoalesceForward  int    // Frees merged with the right neighbor
	CoalesceBackward int    // Frees merged with the left neighbor
	BlocksAllocated  uint64 // Total blocks handed out
	BlocksFreed      uint64 // Total blocks returned
}

// FreeSpace is the in-memory free-extent index. Extents are kept sorted by
// start and never overlap or touch (adjacent runs coalesce on free).
type FreeSpace struct {
	mu      sync.Mutex
	extents []extent
	stats   Stats

	// maxFreePerStep caps blocks returned by one FreeBounded call.
	// 0 means unbounded.
	maxFreePerStep uint64
}

// NewFreeSpace returns an empty index.
func NewFreeSpace() *FreeSpace {
	return &FreeSpace{}
}

// SetMaxFreePerStep caps how many blocks a single bounded free may return.
func (fs *FreeSpace) SetMaxFreePerStep(n uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.maxFreePerStep = n
}

// AddRegion seeds the index with a free run at mount time. Panics on
// overlap with existing free space: the mount-time walk feeding it must
// never produce one.
func (fs *FreeSpace) AddRegion(start, count uint64) {
	if count == 0 {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.insert(extent{start, count}); err != nil {
		panic(fmt.Sprintf("alloc: mount-time region [%d,+%d) overlaps free space", start, count))
	}
}

// TotalFree returns the block count currently free.
func (fs *FreeSpace) TotalFree() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var total uint64
	for _, e := range fs.extents {
		total += e.count
	}
	return total
}

// Contains reports whether [start, start+count) is entirely free.
func (fs *FreeSpace) Contains(start, count uint64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	i := sort.Search(len(fs.extents), func(i int) bool {
		return fs.extents[i].end() > start
	})
	return i < len(fs.extents) &&
		fs.extents[i].start <= start &&
		start+count <= fs.extents[i].end()
}

// Stats returns a snapshot of the index statistics.
func (fs *FreeSpace) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.stats
}

// Allocate takes want blocks from the first free extent large enough,
// splitting it when it is larger. Returns the start of the run.
func (fs *FreeSpace) Allocate(want uint64) (uint64, error) {
	if want == 0 {
		return 0, fmt.Errorf("%w: zero-length allocation", ErrBadRange)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stats.AllocCalls++

	for i, e := range fs.extents {
		if e.count < want {
			continue
		}
		start := e.start
		if e.count == want {
			fs.extents = append(fs.extents[:i], fs.extents[i+1:]...)
		} else {
			fs.extents[i] = extent{e.start + want, e.count - want}
			fs.stats.SplitCount++
		}
		fs.stats.BlocksAllocated += want
		if logAlloc {
			fmt.Fprintf(os.Stderr, "alloc: allocate %d blocks at %d (%d extents free)\n",
				want, start, len(fs.extents))
		}
		return start, nil
	}
	return 0, fmt.Errorf("allocate %d blocks: %w", want, ErrNoSpace)
}

// Free returns [start, start+count) to the index, coalescing with both
// neighbors. Fails with ErrNotFree if any block in the range is already
// free.
func (fs *FreeSpace) Free(start, count uint64) error {
	if count == 0 || start+count < start {
		return fmt.Errorf("%w: [%d,+%d)", ErrBadRange, start, count)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stats.FreeCalls++
	if err := fs.insert(extent{start, count}); err != nil {
		return err
	}
	fs.stats.BlocksFreed += count
	return nil
}

// FreeBounded returns up to maxFreePerStep blocks from the front of
// [start, start+count) and reports how many it actually freed. Callers
// loop, shrinking their range by the returned amount, until nothing
// remains.
func (fs *FreeSpace) FreeBounded(start, count uint64) (uint64, error) {
	if count == 0 || start+count < start {
		return 0, fmt.Errorf("%w: [%d,+%d)", ErrBadRange, start, count)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stats.FreeCalls++

	n := count
	if fs.maxFreePerStep != 0 && n > fs.maxFreePerStep {
		n = fs.maxFreePerStep
	}
	if err := fs.insert(extent{start, n}); err != nil {
		return 0, err
	}
	fs.stats.BlocksFreed += n
	if logAlloc {
		fmt.Fprintf(os.Stderr, "alloc: freed %d/%d blocks at %d\n", n, count, start)
	}
	return n, nil
}

// insert adds a free extent, coalescing with adjacent neighbors. Caller
// holds the mutex.
func (fs *FreeSpace) insert(e extent) error {
	i := sort.Search(len(fs.extents), func(i int) bool {
		return fs.extents[i].start >= e.start
	})

	// Overlap checks against both neighbors.
	if i > 0 && fs.extents[i-1].end() > e.start {
		return fmt.Errorf("%w: [%d,+%d) overlaps [%d,+%d)", ErrNotFree,
			e.start, e.count, fs.extents[i-1].start, fs.extents[i-1].count)
	}
	if i < len(fs.extents) && e.end() > fs.extents[i].start {
		return fmt.Errorf("%w: [%d,+%d) overlaps [%d,+%d)", ErrNotFree,
			e.start, e.count, fs.extents[i].start, fs.extents[i].count)
	}

	mergeLeft := i > 0 && fs.extents[i-1].end() == e.start
	mergeRight := i < len(fs.extents) && e.end() == fs.extents[i].start

	switch {
	case mergeLeft && mergeRight:
		fs.extents[i-1].count += e.count + fs.extents[i].count
		fs.extents = append(fs.extents[:i], fs.extents[i+1:]...)
		fs.stats.CoalesceBackward++
		fs.stats.CoalesceForward++
	case mergeLeft:
		fs.extents[i-1].count += e.count
		fs.stats.CoalesceBackward++
	case mergeRight:
		fs.extents[i].start = e.start
		fs.extents[i].count += e.count
		fs.stats.CoalesceForward++
	default:
		fs.extents = append(fs.extents, extent{})
		copy(fs.extents[i+1:], fs.extents[i:])
		fs.extents[i] = e
	}
	return nil
}
