package imeta

import "errors"

var (
	// ErrNotFound indicates the name has no registry slot.
	ErrNotFound = errors.New("imeta: name not registered")

	// ErrExists indicates a create for a name already registered.
	ErrExists = errors.New("imeta: name already registered")

	// ErrFull indicates a registry block with no free slots.
	ErrFull = errors.New("imeta: registry full")

	// ErrBadName indicates an empty name or one longer than a slot holds.
	ErrBadName = errors.New("imeta: bad name")

	// ErrNoRegistry indicates an image without an initialized registry.
	ErrNoRegistry = errors.New("imeta: no registry block")
)
