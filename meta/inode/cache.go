package inode

import (
	"fmt"
	"sync"

	"github.com/joshuapare/metakit/meta"
)

// DefaultCacheSize bounds how many inactive inodes the cache keeps
// in-core.
const DefaultCacheSize = 256

// Cache keeps in-core inodes alive between transactions. References are
// two-tier: the cache itself holds each loaded inode passively, and
// callers take active references around use. Only inodes with zero active
// references are ever evicted, so a held pointer never goes stale under
// its user.
type Cache struct {
	img *meta.Image

	mu      sync.Mutex
	max     int
	entries map[uint64]*centry
	order   []uint64 // load order, eviction scan order
}

type centry struct {
	ino    *Inode
	active int
}

// NewCache returns a cache over img holding at most max inactive inodes;
// max <= 0 means DefaultCacheSize.
func NewCache(img *meta.Image, max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{img: img, max: max, entries: make(map[uint64]*centry)}
}

// Len returns the number of in-core inodes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get returns ino with an active reference, loading it from the image on
// first use.
func (c *Cache) Get(ino uint64) (*Inode, error) {
	c.mu.Lock()
	if e, ok := c.entries[ino]; ok {
		e.active++
		c.mu.Unlock()
		return e.ino, nil
	}
	c.mu.Unlock()

	// Load outside the lock; racing loaders settle below.
	loaded, err := Load(c.img, ino)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[ino]; ok {
		e.active++
		return e.ino, nil
	}
	c.entries[ino] = &centry{ino: loaded, active: 1}
	c.order = append(c.order, ino)
	c.evictLocked()
	return loaded, nil
}

// Grab takes an additional active reference on an already in-core inode.
func (c *Cache) Grab(i *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[i.Ino]
	if !ok || e.ino != i {
		panic(fmt.Sprintf("inode: grab of uncached inode %d", i.Ino))
	}
	e.active++
}

// Release drops one active reference. The inode stays in-core passively
// until eviction pressure removes it.
func (c *Cache) Release(i *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[i.Ino]
	if !ok || e.ino != i {
		panic(fmt.Sprintf("inode: release of uncached inode %d", i.Ino))
	}
	if e.active <= 0 {
		panic(fmt.Sprintf("inode: release of inode %d with %d active refs", i.Ino, e.active))
	}
	e.active--
	c.evictLocked()
}

// ActiveRefs returns the active reference count of ino (0 if absent).
func (c *Cache) ActiveRefs(ino uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[ino]; ok {
		return e.active
	}
	return 0
}

// Insert places a freshly created in-core inode into the cache with one
// active reference.
func (c *Cache) Insert(i *Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[i.Ino]; ok {
		panic(fmt.Sprintf("inode: insert of already cached inode %d", i.Ino))
	}
	c.entries[i.Ino] = &centry{ino: i, active: 1}
	c.order = append(c.order, i.Ino)
}

// Forget drops ino from the cache regardless of capacity. Fails with
// ErrBusy while active references remain.
func (c *Cache) Forget(ino uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ino]
	if !ok {
		return nil
	}
	if e.active > 0 {
		return fmt.Errorf("forget inode %d: %w", ino, ErrBusy)
	}
	delete(c.entries, ino)
	return nil
}

// evictLocked trims inactive inodes oldest-first while over capacity.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.max {
		return
	}
	kept := c.order[:0]
	for _, ino := range c.order {
		e, ok := c.entries[ino]
		if !ok {
			continue
		}
		if len(c.entries) > c.max && e.active == 0 {
			delete(c.entries, ino)
			continue
		}
		kept = append(kept, ino)
	}
	c.order = kept
}
