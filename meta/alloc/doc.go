// Package alloc provides free-space accounting for a metadata image and
// the extent-free intent family.
//
// # Free-Space Index
//
// Only the summary counters persist; the index itself is in-memory, built
// at mount time by walking every inode's mappings and subtracting them
// from the data space. The index is a sorted, coalesced list of free
// extents supporting first-fit allocation with splitting and both-sided
// coalescing on free.
//
// # Bounded Frees
//
// MaxFreePerStep caps how many blocks one free call may return. The cap
// models freelist-constrained regions where releasing a large extent takes
// several passes; the extent-free intent turns each pass into one finish
// step, exercising the transaction engine's continuation signal.
//
// # Thread Safety
//
// FreeSpace is safe for concurrent use; each transaction's finish steps
// take the index mutex per call.
package alloc
