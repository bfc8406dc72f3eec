package metakit

import "errors"

var (
	// ErrInconsistent indicates on-disk state the mount walk or checker
	// could not reconcile.
	ErrInconsistent = errors.New("metakit: inconsistent image")

	// ErrHasRegistry indicates an InitRegistry on an image that already
	// has one.
	ErrHasRegistry = errors.New("metakit: registry already initialized")
)
