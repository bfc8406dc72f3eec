// Package dirty provides efficient tracking and flushing of dirty byte
// ranges in a memory-mapped metadata image.
//
// The tracker maintains a list of dirty ranges, coalesces them into
// page-aligned ranges, and flushes them to disk using platform-specific
// system calls (msync on Unix, FlushViewOfFile on Windows).
//
// # Superblock Ordering
//
// The superblock (block 0) is deliberately excluded from FlushData and only
// written by FlushSuper. Committing transactions rely on that split: data
// blocks reach disk first, then the superblock with its bumped commit
// sequence, so a torn commit is detectable rather than silent.
//
// # Thread Safety
//
// Tracker instances are not thread-safe. Each transaction-owning goroutine
// must synchronize access externally.
package dirty
