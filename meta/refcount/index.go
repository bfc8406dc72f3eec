package refcount

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnderflow indicates a decrement of space that is not shared.
var ErrUnderflow = errors.New("refcount: decrement below single ownership")

// record covers [start, start+count) blocks shared by refs owners.
// Invariant: refs >= 2; adjacent records with equal refs are merged.
type record struct {
	start uint64
	count uint64
	refs  uint32
}

func (r record) end() uint64 { return r.start + r.count }

// Index is the in-memory share-count table, sorted by physical start.
type Index struct {
	mu      sync.Mutex
	records []record

	maxAdjustPerStep uint64 // 0 means unbounded
}

// NewIndex returns an empty index: nothing shared.
func NewIndex() *Index {
	return &Index{}
}

// SetMaxAdjustPerStep caps the blocks one AdjustBounded call processes.
// Zero restores the unbounded default.
func (ix *Index) SetMaxAdjustPerStep(n uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.maxAdjustPerStep = n
}

// Refcount returns the share count of physical block blk (1 if unshared).
func (ix *Index) Refcount(blk uint64) uint32 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].end() > blk
	})
	if i < len(ix.records) && ix.records[i].start <= blk {
		return ix.records[i].refs
	}
	return 1
}

// SharesAny reports whether any block of [start, start+count) is shared.
func (ix *Index) SharesAny(start, count uint64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	end := start + count
	for _, r := range ix.records {
		if r.start < end && r.end() > start {
			return true
		}
	}
	return false
}

// SharedBlocks returns the total number of shared blocks in the index.
func (ix *Index) SharedBlocks() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var total uint64
	for _, r := range ix.records {
		total += r.count
	}
	return total
}

// Adjust applies delta (+1 or -1) to every block of [start, start+count).
func (ix *Index) Adjust(start, count uint64, delta int) error {
	for count > 0 {
		n, err := ix.AdjustBounded(start, count, delta)
		if err != nil {
			return err
		}
		start += n
		count -= n
	}
	return nil
}

// AdjustBounded applies delta to a prefix of [start, start+count), at most
// maxAdjustPerStep blocks, and returns how many it processed. Failure
// applies nothing.
func (ix *Index) AdjustBounded(start, count uint64, delta int) (uint64, error) {
	if delta != 1 && delta != -1 {
		panic(fmt.Sprintf("refcount: adjust delta %d", delta))
	}
	if count == 0 {
		return 0, nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := count
	if ix.maxAdjustPerStep != 0 && n > ix.maxAdjustPerStep {
		n = ix.maxAdjustPerStep
	}
	end := start + n

	// A decrement must only touch shared space.
	if delta < 0 {
		off := start
		for off < end {
			r, ok := ix.lookupLocked(off)
			if !ok {
				return 0, fmt.Errorf("%w: block %d", ErrUnderflow, off)
			}
			off = r.end()
		}
	}

	ix.splitAt(start)
	ix.splitAt(end)

	if delta > 0 {
		ix.incrementRange(start, end)
	} else {
		ix.decrementRange(start, end)
	}
	ix.mergeNeighbors()
	return n, nil
}

func (ix *Index) lookupLocked(blk uint64) (record, bool) {
	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].end() > blk
	})
	if i < len(ix.records) && ix.records[i].start <= blk {
		return ix.records[i], true
	}
	return record{}, false
}

// splitAt cuts any record straddling blk so blk is a record boundary.
func (ix *Index) splitAt(blk uint64) {
	for i, r := range ix.records {
		if r.start < blk && r.end() > blk {
			left := record{start: r.start, count: blk - r.start, refs: r.refs}
			right := record{start: blk, count: r.end() - blk, refs: r.refs}
			ix.records[i] = left
			ix.records = append(ix.records, record{})
			copy(ix.records[i+2:], ix.records[i+1:])
			ix.records[i+1] = right
			return
		}
	}
}

// incrementRange bumps existing records inside [start, end) and fills the
// gaps with fresh refs=2 records. Both bounds are record boundaries.
func (ix *Index) incrementRange(start, end uint64) {
	var out []record
	cursor := start
	for _, r := range ix.records {
		if r.end() <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		if r.start > cursor {
			out = append(out, record{start: cursor, count: r.start - cursor, refs: 2})
		}
		r.refs++
		out = append(out, r)
		cursor = r.end()
	}
	if cursor < end {
		out = append(out, record{start: cursor, count: end - cursor, refs: 2})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	ix.records = out
}

// decrementRange drops records inside [start, end) back toward implicit
// single ownership. Coverage was verified by the caller.
func (ix *Index) decrementRange(start, end uint64) {
	var out []record
	for _, r := range ix.records {
		if r.end() <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		r.refs--
		if r.refs >= 2 {
			out = append(out, r)
		}
	}
	ix.records = out
}

func (ix *Index) mergeNeighbors() {
	if len(ix.records) < 2 {
		return
	}
	out := ix.records[:1]
	for _, r := range ix.records[1:] {
		last := &out[len(out)-1]
		if last.end() == r.start && last.refs == r.refs {
			last.count += r.count
		} else {
			out = append(out, r)
		}
	}
	ix.records = out
}
