package inode

import "errors"

var (
	// ErrBadInode indicates a table slot without a valid inode record.
	ErrBadInode = errors.New("inode: bad record")

	// ErrBadNumber indicates an inode number outside the table.
	ErrBadNumber = errors.New("inode: number outside table")

	// ErrNoSlot indicates an exhausted inode table.
	ErrNoSlot = errors.New("inode: no free slot")

	// ErrOverflowShort indicates fork records that no longer fit the
	// literal area with no (or too little) overflow chain attached.
	ErrOverflowShort = errors.New("inode: overflow chain too short")

	// ErrInlineTooBig indicates inline payload larger than the literal
	// area.
	ErrInlineTooBig = errors.New("inode: inline payload too large")

	// ErrBusy indicates an operation that needs exclusive use of an inode
	// still actively referenced elsewhere.
	ErrBusy = errors.New("inode: actively referenced")
)
