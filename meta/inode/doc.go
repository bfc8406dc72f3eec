// Package inode manages in-core inodes: the parsed form of the fixed-size
// records in the image's inode table, each carrying a data and an
// attribute fork of extent mappings.
//
// Fork mappings live in the record's literal area while they fit. When a
// fork fragments past that, its records spill into a chain of overflow
// extent-list blocks and the fork format switches to chained; merging the
// mappings back down lets the chain be dropped again.
//
// An Inode is a transaction object: it serializes its dirty fields into
// the backing table block only when a committing transaction flushes it.
package inode
