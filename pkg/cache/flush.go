package cache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/internal/telemetry"
)

// FlushLevel selects how aggressively Flush drains dirty blocks.
type FlushLevel int

const (
	// FlushUnderThreshold writes just enough dirty blocks to bring the
	// cache back under its configured dirty percentage.
	FlushUnderThreshold FlushLevel = iota
	// FlushAll drains every dirty block, used before a snapshot publish
	// and on clean shutdown.
	FlushAll
)

// Flush writes dirty blocks to disk. At FlushUnderThreshold it stops
// once the dirty byte count is back under dirtyPercentage of capacity;
// at FlushAll it drains every dirty block in the cache.
func (c *Cache) Flush(ctx context.Context, level FlushLevel) error {
	ctx, span := telemetry.StartCacheSpan(ctx, "flush")
	defer span.End()
	start := time.Now()

	targets := c.flushCandidates(level)
	if len(targets) == 0 {
		return nil
	}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(8)
	for _, b := range targets {
		b := b
		p.Go(func(ctx context.Context) error {
			return c.writeWithRetry(ctx, b)
		})
	}

	if err := p.Wait(); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.ObserveFlush(len(targets), time.Since(start))
	}
	logger.DebugCtx(ctx, "flush complete", logger.Attempt(len(targets)))
	return nil
}

// flushCandidates picks the dirty blocks Flush should write for the
// requested level.
func (c *Cache) flushCandidates(level FlushLevel) []*Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dirty []*Block
	for _, b := range c.blocks {
		if b.dirty {
			dirty = append(dirty, b)
		}
	}

	if level == FlushAll {
		return dirty
	}

	capacityBytes := int64(c.capacity) * int64(c.disk.BlockSize())
	threshold := capacityBytes * int64(c.dirtyPercentage) / 100
	if c.dirtyBytes <= threshold || capacityBytes == 0 {
		return nil
	}

	// Blocks are taken in the map's iteration order, which is
	// unspecified: no oldest-first ordering is applied, the pass just
	// picks dirty blocks until enough bytes are covered.
	need := c.dirtyBytes - threshold
	var picked []*Block
	for _, b := range dirty {
		if need <= 0 {
			break
		}
		picked = append(picked, b)
		need -= int64(len(b.data))
	}
	return picked
}

// writeWithRetry wraps Write with exponential backoff, since a
// transient disk or venti error shouldn't fail an entire flush pass. It
// keeps retrying until the write lands or ctx is cancelled.
func (c *Cache) writeWithRetry(ctx context.Context, b *Block) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(eb, ctx)
	return backoff.Retry(func() error {
		b.mu.Lock()
		dirty := b.dirty
		b.mu.Unlock()
		if !dirty {
			return nil
		}
		return c.Write(ctx, b)
	}, bo)
}

// DirtyPercent returns the cache's current dirty byte usage as a
// percentage of capacity, for fsEpochLow/timer-driven flush decisions.
func (c *Cache) DirtyPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacityBytes := int64(c.capacity) * int64(c.disk.BlockSize())
	if capacityBytes == 0 {
		return 0
	}
	return float64(c.dirtyBytes) * 100 / float64(capacityBytes)
}
