// Package rmap maintains the reverse-mapping index: for each physical
// extent, which inode and fork own it and at what logical offset. The
// index is the ground truth consistency checks walk, and every block
// mapping change records its mirror image here through a deferred update
// so the two indexes only ever diverge inside an open transaction.
package rmap
