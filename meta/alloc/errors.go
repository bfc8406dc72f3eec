package alloc

import "errors"

var (
	// ErrNoSpace indicates no free extent large enough was found.
	ErrNoSpace = errors.New("alloc: no free extent large enough")

	// ErrNotFree indicates a free of blocks that overlap an already-free
	// extent (double free).
	ErrNotFree = errors.New("alloc: blocks already free")

	// ErrBadRange indicates a zero-length or overflowing block range.
	ErrBadRange = errors.New("alloc: bad block range")
)
