package dirty

import "context"

// Mapped is the view of the backing image the tracker needs: the mapped
// bytes to msync and the file descriptor to fdatasync.
type Mapped interface {
	// Bytes returns the full mapped contents of the image.
	Bytes() []byte

	// FD returns the underlying file descriptor.
	FD() int
}

// RangeTracker is the minimal interface for recording dirty byte ranges.
// Components that only need to notify about dirty regions (buffer cache,
// counter application) take this rather than the full Tracker.
type RangeTracker interface {
	// Add marks a byte range as dirty.
	// off is the offset from the start of the image, length is in bytes.
	Add(off, length int)
}

// FlushableTracker extends RangeTracker with the flush half of the
// protocol, for components that control when dirty data is persisted
// (the transaction commit path).
type FlushableTracker interface {
	RangeTracker

	// FlushData flushes only the data regions (not the superblock).
	FlushData(ctx context.Context) error

	// FlushSuper flushes the superblock based on the specified mode.
	FlushSuper(ctx context.Context, mode FlushMode) error
}
