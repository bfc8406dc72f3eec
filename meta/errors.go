package meta

import "errors"

var (
	// ErrNoSpace indicates a reservation or counter update would exceed
	// what the image has available.
	ErrNoSpace = errors.New("meta: not enough free space")

	// ErrCorrupt indicates on-image metadata failed a consistency check.
	// Callers unwind via Cancel and surface the error; nothing retries it.
	ErrCorrupt = errors.New("meta: corrupt metadata")

	// ErrBadSuper indicates block 0 is not a valid superblock (signature,
	// checksum, version, or geometry mismatch).
	ErrBadSuper = errors.New("meta: bad superblock")

	// ErrBadGeometry indicates a Create request with out-of-range geometry.
	ErrBadGeometry = errors.New("meta: bad image geometry")
)
