// Package imeta is the metadata-inode registry: a single block of
// fixed-size (name, ino) slots naming the well-known internal inodes an
// image carries (free-space summary shadow, realtime bitmap stand-ins,
// and the like).
//
// All edits go through a transaction as ordinary buffer log items, so a
// cancelled create leaves neither the slot nor the inode behind.
package imeta
