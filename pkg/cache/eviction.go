package cache

import (
	"context"

	"github.com/archivefs/fossil/pkg/block"
)

// Resident reports whether addr is currently held in the cache, and
// whether it is dirty. Used by the reclaimer to avoid freeing a block
// that still has in-flight writes queued against it.
func (c *Cache) Resident(addr block.Addr) (resident, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[addr]
	if !ok {
		return false, false
	}
	return true, b.dirty
}

// EvictClean drops up to n resident blocks that currently have no
// holders and no dirty data, freeing cache slots ahead of a bulk read
// (e.g. an archive walk) without waiting for natural LRU pressure.
// Returns the number of blocks actually evicted.
func (c *Cache) EvictClean(ctx context.Context, n int) int {
	if err := ctx.Err(); err != nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for evicted < n && len(c.clean) > 0 {
		victim := c.clean[len(c.clean)-1]
		c.clean = c.clean[:len(c.clean)-1]
		delete(c.blocks, victim.addr)
		evicted++
	}

	if c.metrics != nil {
		c.metrics.RecordResident(len(c.blocks))
	}
	return evicted
}
