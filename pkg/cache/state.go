package cache

import (
	"context"
	"fmt"

	"github.com/archivefs/fossil/pkg/block"
)

// Alloc finds a free block, gives it to the caller as a writable block
// labeled for tag at the given type and epoch, and marks it dirty. The
// returned block must be written (directly or via a dependency) before
// the label change is durable.
func (c *Cache) Alloc(ctx context.Context, epoch uint32, tag block.Tag, typ block.Type, scanStart block.Addr) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := c.findFree(scanStart)
	if err != nil {
		return nil, err
	}

	b, err := c.loadLocal(addr, epoch, ModeWriteOnce)
	if err != nil {
		return nil, err
	}

	b.label = block.Label{
		Type:  typ,
		State: block.StateAlloc,
		Tag:   tag,
		Epoch: epoch,
	}
	for i := range b.data {
		b.data[i] = 0
	}

	c.mu.Lock()
	c.blocks[addr] = b
	c.mu.Unlock()

	c.Dirty(b)
	return b, nil
}

// findFree scans the label partition for a block whose derived role is
// Free and that is not already resident in the cache (an allocated block
// stays Free on disk until its first write), starting at scanStart and
// wrapping around. This linear scan
// mirrors the reference allocator; a production deployment would keep
// a free list instead of rescanning, but correctness doesn't depend on
// scan order.
func (c *Cache) findFree(scanStart block.Addr) (block.Addr, error) {
	n := c.disk.NumDataBlocks()
	if n == 0 {
		return 0, fmt.Errorf("cache: disk has no data blocks")
	}

	for i := uint32(0); i < n; i++ {
		addr := block.Addr((uint32(scanStart) + i) % n)
		label, err := c.disk.ReadLabel(addr)
		if err != nil {
			return 0, fmt.Errorf("cache: scan label %d: %w", addr, err)
		}
		if label.State != 0 {
			continue
		}
		c.mu.Lock()
		_, resident := c.blocks[addr]
		c.mu.Unlock()
		if !resident {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("cache: disk full")
}

// Free transitions b's label back to the free state. The caller must
// hold b via Get and release it with Put after Write persists the
// label change.
func (c *Cache) Free(b *Block) {
	b.label = block.Label{}
	c.Dirty(b)
}

// CloseEpoch marks b closed at the given epoch without changing its
// Venti/Copied bits, used when a source is removed from the active
// tree but its blocks remain reachable from a snapshot.
func (c *Cache) CloseEpoch(b *Block, epoch uint32) {
	b.label.State |= block.StateClosed
	b.label.EpochClose = epoch
	c.Dirty(b)
}

// MarkCopied sets b's Copied bit: a fresh block now holds a writable
// duplicate of b's contents at a newer epoch, and b itself has been
// retired to whatever snapshot still roots it. Used by the copy-on-write
// path in pkg/source alongside CloseEpoch, per §4.3's "Active(x), x<h ->
// Snap(h-1)" transition.
func (c *Cache) MarkCopied(b *Block) {
	b.label.State |= block.StateCopied
	c.Dirty(b)
}
