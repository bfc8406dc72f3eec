// Package meta opens and mutates a metakit metadata image: a flat array of
// fixed-size blocks headed by a superblock, holding an inode table and data
// blocks.
//
// The package owns the pieces every other layer builds on:
//
//   - Image: the memory-mapped image plus its mount-wide state (summary
//     counters, reservations, dirty tracking, buffer cache, intent log).
//   - Superblock: a zero-copy accessor view over block 0.
//   - Buf: an exclusively-owned, refcounted private copy of a block range,
//     written back to the image only when a transaction commits.
//   - SBDeltas: the per-transaction counter deltas applied atomically at
//     commit time.
//
// Transactions live in meta/txn; this package deliberately knows nothing
// about them. It exposes the narrow operations the transaction layer needs:
// reserve/unreserve, get/write-back/invalidate buffers, apply deltas once.
package meta
