// Package bmap models a file fork's extent mappings: contiguous runs of
// logical file blocks associated with contiguous runs of physical storage
// blocks, each carrying a written/unwritten state flag.
//
// The mapping list is kept sorted by logical offset, non-overlapping, with
// adjacent compatible runs merged on insert. All operations are in-memory;
// serialization to the inode literal area and overflow blocks lives in
// meta/inode.
//
// The merge-class machinery (Classify, ClassDelta) feeds the extent-swap
// estimator: placing a mapping that is contiguous with both, one, or
// neither of its logical neighbors changes the fork's extent count by -1,
// 0, or +1, and comparing the incoming class against the class of what it
// replaces yields the per-step worst-case delta.
package bmap
