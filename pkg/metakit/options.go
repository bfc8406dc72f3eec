package metakit

import (
	"github.com/joshuapare/metakit/meta"
	"github.com/joshuapare/metakit/meta/dirty"
	"github.com/joshuapare/metakit/meta/inode"
)

// Geometry describes a new image for Create.
type Geometry = meta.Geometry

// Options configures Open and Create.
// The zero value is a usable default.
type Options struct {
	// FlushMode selects the durability level for committing transactions.
	FlushMode dirty.FlushMode

	// CacheSize bounds the in-core inode cache; 0 means
	// inode.DefaultCacheSize.
	CacheSize int
}

func (o Options) imageOptions() meta.Options {
	return meta.Options{FlushMode: o.FlushMode}
}

func (o Options) cacheSize() int {
	if o.CacheSize <= 0 {
		return inode.DefaultCacheSize
	}
	return o.CacheSize
}
