package rmap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrExists indicates a map of a physical range already owned.
	ErrExists = errors.New("rmap: physical range already mapped")

	// ErrNoRecord indicates an unmap with no matching record.
	ErrNoRecord = errors.New("rmap: no matching record")
)

// ForkKind distinguishes which of an inode's forks owns a record.
type ForkKind uint8

const (
	ForkData ForkKind = iota
	ForkAttr
)

// Record is one reverse-mapping entry: the physical extent
// [StartBlock, StartBlock+BlockCount) belongs to fork Fork of inode Owner
// at logical offset StartOff.
type Record struct {
	StartBlock uint64
	BlockCount uint64
	Owner      uint64
	Fork       ForkKind
	StartOff   uint64
	Unwritten  bool
}

// EndBlock returns the first physical block past the record.
func (r Record) EndBlock() uint64 { return r.StartBlock + r.BlockCount }

// Index is the in-memory reverse-mapping table, sorted by physical start.
//
// Methods are safe for concurrent use, though the transaction engine
// serializes mutations in practice.
type Index struct {
	mu      sync.Mutex
	records []Record

	opsRecorded int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Len returns the record count.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.records)
}

// OpsRecorded returns the number of successful map/unmap operations since
// the index was created. Diagnostics only.
func (ix *Index) OpsRecorded() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.opsRecorded
}

// Lookup returns the record containing physical block blk.
func (ix *Index) Lookup(blk uint64) (Record, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].EndBlock() > blk
	})
	if i < len(ix.records) && ix.records[i].StartBlock <= blk {
		return ix.records[i], true
	}
	return Record{}, false
}

// Owners returns every record overlapping [start, start+count).
func (ix *Index) Owners(start, count uint64) []Record {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	end := start + count
	var out []Record
	for _, r := range ix.records {
		if r.StartBlock < end && r.EndBlock() > start {
			out = append(out, r)
		}
	}
	return out
}

// Map records ownership of a physical extent. The range must not overlap
// any existing record.
func (ix *Index) Map(r Record) error {
	if r.BlockCount == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].StartBlock >= r.StartBlock
	})
	if i > 0 && ix.records[i-1].EndBlock() > r.StartBlock {
		return fmt.Errorf("%w: [%d,+%d) vs inode %d", ErrExists,
			r.StartBlock, r.BlockCount, ix.records[i-1].Owner)
	}
	if i < len(ix.records) && r.EndBlock() > ix.records[i].StartBlock {
		return fmt.Errorf("%w: [%d,+%d) vs inode %d", ErrExists,
			r.StartBlock, r.BlockCount, ix.records[i].Owner)
	}

	ix.records = append(ix.records, Record{})
	copy(ix.records[i+1:], ix.records[i:])
	ix.records[i] = r
	ix.opsRecorded++
	return nil
}

// Unmap removes [start, start+count) from the record owning it. The
// range must lie inside a single record with the matching owner and
// fork; unmapping the middle splits the remainder into two records.
func (ix *Index) Unmap(start, count, owner uint64, fork ForkKind) error {
	if count == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.unmapLocked(start, count, owner, fork); err != nil {
		return err
	}
	ix.opsRecorded++
	return nil
}

func (ix *Index) unmapLocked(start, count, owner uint64, fork ForkKind) error {
	end := start + count
	for i, r := range ix.records {
		if r.StartBlock > start || end > r.EndBlock() || r.Owner != owner || r.Fork != fork {
			continue
		}
		// Replace r with what survives on either side. A record maps a
		// contiguous run, so the logical offset shifts with the physical.
		var keep []Record
		if r.StartBlock < start {
			left := r
			left.BlockCount = start - r.StartBlock
			keep = append(keep, left)
		}
		if end < r.EndBlock() {
			right := r
			skip := end - r.StartBlock
			right.StartBlock += skip
			right.StartOff += skip
			right.BlockCount -= skip
			keep = append(keep, right)
		}
		out := make([]Record, 0, len(ix.records)-1+len(keep))
		out = append(out, ix.records[:i]...)
		out = append(out, keep...)
		out = append(out, ix.records[i+1:]...)
		ix.records = out
		return nil
	}
	return fmt.Errorf("%w: [%d,+%d) inode %d", ErrNoRecord, start, count, owner)
}

// Remap rewrites the ownership of one physical extent as a single
// operation: the exact from record is dropped and the to record inserted.
// Failure leaves the index unchanged.
func (ix *Index) Remap(from, to Record) error {
	if from.BlockCount == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.unmapLocked(from.StartBlock, from.BlockCount, from.Owner, from.Fork); err != nil {
		return err
	}
	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].StartBlock >= to.StartBlock
	})
	if i > 0 && ix.records[i-1].EndBlock() > to.StartBlock ||
		i < len(ix.records) && to.EndBlock() > ix.records[i].StartBlock {
		// Put the from record back; a remap is all or nothing.
		j := sort.Search(len(ix.records), func(j int) bool {
			return ix.records[j].StartBlock >= from.StartBlock
		})
		ix.records = append(ix.records, Record{})
		copy(ix.records[j+1:], ix.records[j:])
		ix.records[j] = from
		return fmt.Errorf("%w: remap target [%d,+%d)", ErrExists, to.StartBlock, to.BlockCount)
	}
	ix.records = append(ix.records, Record{})
	copy(ix.records[i+1:], ix.records[i:])
	ix.records[i] = to
	ix.opsRecorded++
	return nil
}
