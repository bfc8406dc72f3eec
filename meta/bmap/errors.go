package bmap

import "errors"

var (
	// ErrOverlap indicates an insert over an already-mapped range.
	ErrOverlap = errors.New("bmap: mapping overlaps existing extent")

	// ErrNotMapped indicates a remove of a range that is not fully
	// mapped. On paths where the caller has flushed and locked the file,
	// this means on-disk corruption, not a race.
	ErrNotMapped = errors.New("bmap: range not mapped")

	// ErrTooLong indicates a single mapping longer than MaxExtentLen.
	ErrTooLong = errors.New("bmap: mapping exceeds maximum extent length")

	// ErrTooManyExtents indicates an operation would push the fork past
	// its representable extent count ("extents too fragmented").
	ErrTooManyExtents = errors.New("bmap: too many extents")

	// ErrBadFormat indicates the fork format does not carry block
	// mappings (inline or dev forks).
	ErrBadFormat = errors.New("bmap: fork format has no mappings")
)
