package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/block"
)

// Dirty marks b as modified. The caller must still hold b (via Get).
// A dirty block is protected from eviction until Write clears the flag.
func (c *Cache) Dirty(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !b.dirty {
		b.dirty = true
		c.dirtyBytes += int64(len(b.data))
		if c.metrics != nil {
			c.metrics.RecordDirtyBytes(c.dirtyBytes)
		}
	}
}

// Dependency records that dst's content embeds a pointer/score that is
// only valid once src has reached disk with its current content. Write
// walks this graph and forces src (and its own dependencies) out before
// writing dst, so a crash can never leave dst pointing at data that was
// never written.
func (c *Cache) Dependency(dst, src *Block, oldScore block.Score) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst.deps = append(dst.deps, dependency{target: src, oldScore: oldScore})
}

// Write forces b's dependencies to disk (recursively, depth first) and
// then writes b's own label and data, clearing its dirty flag.
func (c *Cache) Write(ctx context.Context, b *Block) error {
	if !b.dirty {
		return ErrNotDirty
	}

	ctx, span := telemetry.StartCacheSpan(ctx, "write", telemetry.Addr(uint32(b.addr)))
	defer span.End()

	start := time.Now()
	if err := c.writeDependencies(ctx, b, make(map[block.Addr]bool)); err != nil {
		return err
	}

	if err := c.disk.WriteLabel(b.addr, b.label); err != nil {
		return fmt.Errorf("cache: write label %d: %w", b.addr, err)
	}
	if err := c.disk.WriteData(b.addr, b.data); err != nil {
		return fmt.Errorf("cache: write data %d: %w", b.addr, err)
	}

	c.mu.Lock()
	b.dirty = false
	b.deps = nil
	c.dirtyBytes -= int64(len(b.data))
	if c.dirtyBytes < 0 {
		c.dirtyBytes = 0
	}
	if c.metrics != nil {
		c.metrics.RecordDirtyBytes(c.dirtyBytes)
		c.metrics.ObserveWrite(len(b.data), time.Since(start))
	}
	c.mu.Unlock()

	logger.DebugCtx(ctx, "block written", logger.Addr(uint32(b.addr)), logger.DurationMs(float64(time.Since(start).Microseconds())/1000.0))
	return nil
}

// writeDependencies writes out b's dependency list before b itself.
// visited guards against revisiting a block reachable through more
// than one path in a single Write call.
func (c *Cache) writeDependencies(ctx context.Context, b *Block, visited map[block.Addr]bool) error {
	for _, dep := range b.deps {
		target := dep.target
		if target.addr != block.NilAddr {
			if visited[target.addr] {
				continue
			}
			visited[target.addr] = true
		}

		target.mu.Lock()
		dirty := target.dirty
		target.mu.Unlock()

		if !dirty {
			continue
		}
		if err := c.writeDependencies(ctx, target, visited); err != nil {
			return err
		}
		if target.addr != block.NilAddr {
			if err := c.disk.WriteLabel(target.addr, target.label); err != nil {
				return fmt.Errorf("cache: write dependency label %d: %w", target.addr, err)
			}
			if err := c.disk.WriteData(target.addr, target.data); err != nil {
				return fmt.Errorf("cache: write dependency data %d: %w", target.addr, err)
			}
			c.mu.Lock()
			target.dirty = false
			target.deps = nil
			c.dirtyBytes -= int64(len(target.data))
			if c.dirtyBytes < 0 {
				c.dirtyBytes = 0
			}
			c.mu.Unlock()
		}
	}
	return nil
}
