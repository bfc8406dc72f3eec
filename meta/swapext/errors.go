package swapext

import "errors"

var (
	// ErrCorrupt indicates an on-disk mapping shape the swap cannot
	// explain: a hole where a mapping must be, or identical physical
	// blocks with mismatched written state. Both files were flushed and
	// locked before the swap started, so there is no race to blame.
	ErrCorrupt = errors.New("swapext: corrupt mapping")

	// ErrTooFragmented indicates the swap would push a fork past its
	// representable extent count.
	ErrTooFragmented = errors.New("swapext: extents too fragmented")

	// ErrBadFork indicates a fork format that does not carry block
	// mappings.
	ErrBadFork = errors.New("swapext: fork not block-mapped")

	// ErrBadRange indicates a zero-length or out-of-bounds swap request.
	ErrBadRange = errors.New("swapext: bad range")
)
