package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/disk"
	"github.com/archivefs/fossil/pkg/venti"
)

// Block is a cached copy of a data block or its label, shared by every
// caller currently holding it. Callers must call Cache.Put when done.
type Block struct {
	mu sync.Mutex

	addr  block.Addr
	label block.Label
	data  []byte // len == disk block size
	score block.Score
	epoch uint32

	refs       int
	dirty      bool
	io         IOState
	lastAccess time.Time

	// deps lists blocks that must reach disk before this one, because
	// this block's content embeds a pointer/score that depended on
	// their old value.
	deps []dependency
}

type dependency struct {
	target   *Block
	oldScore block.Score
}

// Addr returns the block's disk address.
func (b *Block) Addr() block.Addr { return b.addr }

// Label returns the block's current label.
func (b *Block) Label() block.Label { return b.label }

// Data returns the block's raw content. The caller must hold the block
// (via Get) and must not retain the slice after calling Put.
func (b *Block) Data() []byte { return b.data }

// SetLabel updates the in-memory label. Write persists it alongside the data.
func (b *Block) SetLabel(l block.Label) { b.label = l }

// Cache is the mandatory buffering layer between the source/snapshot
// layers and the disk. Every block access goes through Get/Put.
type Cache struct {
	mu sync.Mutex

	disk  *disk.Disk
	venti venti.Session

	capacity int // max resident blocks
	blocks   map[block.Addr]*Block
	clean    []*Block // resident, refs==0, not dirty — eviction candidates

	dirtyBytes      int64
	dirtyPercentage int // flush(0) target: stay under this % of capacity*blockSize

	metrics CacheMetrics
	closed  bool
}

// New creates a Cache backed by d and an optional venti session (nil if
// this fossil instance has no archive configured). capacity is the
// maximum number of resident blocks; dirtyPercentage is the
// flush(level=0) target dirty-byte percentage.
func New(d *disk.Disk, v venti.Session, capacity int, dirtyPercentage int, metrics CacheMetrics) *Cache {
	return &Cache{
		disk:            d,
		venti:           v,
		capacity:        capacity,
		blocks:          make(map[block.Addr]*Block, capacity),
		dirtyPercentage: dirtyPercentage,
		metrics:         metrics,
	}
}

// Get returns the cached block at addr, loading it from disk if it is
// not resident. mode controls label validation: ModeRead requires an
// allocated block, ModeWrite allows allocating a free one, and
// ModeWriteOnce skips the disk read entirely (the caller will
// overwrite the block in full).
func (c *Cache) Get(ctx context.Context, addr block.Addr, epochLow uint32, mode Mode) (*Block, error) {
	start := time.Now()
	ctx, span := telemetry.StartCacheSpan(ctx, "get", telemetry.Addr(uint32(addr)))
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if b, ok := c.blocks[addr]; ok {
		c.removeFromClean(b)
		b.refs++
		c.mu.Unlock()
		c.observeGet(true, start)
		logger.DebugCtx(ctx, "cache hit", logger.Addr(uint32(addr)))
		return b, nil
	}
	c.mu.Unlock()

	b, err := c.loadLocal(addr, epochLow, mode)
	if err != nil {
		c.observeGet(false, start)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blocks[addr]; ok {
		// Lost the race against a concurrent loader; use the winner.
		c.removeFromClean(existing)
		existing.refs++
		c.observeGet(true, start)
		return existing, nil
	}
	c.blocks[addr] = b
	c.evictLocked()
	c.observeGet(false, start)
	return b, nil
}

// GetGlobal fetches a block by content score from the venti archive,
// verifying the returned content hashes to score. It is used when the
// source layer follows a pointer into an archived (Role Snap/SnapA)
// subtree that has no local disk address.
func (c *Cache) GetGlobal(ctx context.Context, score block.Score, kind block.Type) (*Block, error) {
	if c.venti == nil {
		return nil, fmt.Errorf("cache: no archive session configured")
	}

	ctx, span := telemetry.StartCacheSpan(ctx, "get_global", telemetry.Score(score.String()))
	defer span.End()

	buf := make([]byte, c.disk.BlockSize())
	n, err := c.venti.Read(ctx, score, kind, buf)
	if err != nil {
		return nil, fmt.Errorf("cache: venti read %s: %w", score, err)
	}

	return &Block{
		addr:       block.NilAddr,
		data:       buf[:n],
		score:      score,
		io:         IOClean,
		lastAccess: time.Now(),
	}, nil
}

// loadLocal reads a block's label and data from disk, validating the
// label against the requested access mode.
func (c *Cache) loadLocal(addr block.Addr, epochLow uint32, mode Mode) (*Block, error) {
	label, err := c.disk.ReadLabel(addr)
	if err != nil {
		return nil, fmt.Errorf("cache: read label %d: %w", addr, err)
	}

	role := label.Role(epochLow)
	switch mode {
	case ModeRead:
		if role == block.RoleFree || role == block.RoleBad {
			return nil, fmt.Errorf("%w: addr=%d role=%s", ErrBadLabel, addr, role)
		}
	case ModeWrite, ModeWriteOnce:
		if role == block.RoleBad {
			return nil, fmt.Errorf("%w: addr=%d role=%s", ErrBadLabel, addr, role)
		}
	}

	data := make([]byte, c.disk.BlockSize())
	if mode != ModeWriteOnce {
		if err := c.disk.ReadData(addr, data); err != nil {
			return nil, fmt.Errorf("cache: read data %d: %w", addr, err)
		}
	}

	return &Block{
		addr:       addr,
		label:      label,
		data:       data,
		refs:       1,
		io:         IOClean,
		lastAccess: time.Now(),
	}, nil
}

// Put releases a hold on b acquired via Get/GetGlobal. Once the
// refcount reaches zero and the block is not dirty, it becomes an
// eviction candidate.
func (c *Cache) Put(b *Block) {
	if b.addr == block.NilAddr {
		return // venti-backed block, not cache-resident
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b.refs--
	if b.refs < 0 {
		b.refs = 0
	}
	b.lastAccess = time.Now()
	if b.refs == 0 && !b.dirty {
		c.clean = append(c.clean, b)
	}
}

// removeFromClean drops b from the eviction-candidate list; callers
// must hold c.mu.
func (c *Cache) removeFromClean(b *Block) {
	for i, cb := range c.clean {
		if cb == b {
			c.clean = append(c.clean[:i], c.clean[i+1:]...)
			return
		}
	}
}

// evictLocked drops the least-recently-used clean block if the cache
// is over capacity. Callers must hold c.mu.
func (c *Cache) evictLocked() {
	if c.capacity <= 0 || len(c.blocks) <= c.capacity {
		return
	}
	for len(c.clean) > 0 && len(c.blocks) > c.capacity {
		oldestIdx := 0
		for i, b := range c.clean {
			if b.lastAccess.Before(c.clean[oldestIdx].lastAccess) {
				oldestIdx = i
			}
		}
		victim := c.clean[oldestIdx]
		c.clean = append(c.clean[:oldestIdx], c.clean[oldestIdx+1:]...)
		delete(c.blocks, victim.addr)
	}
	if c.metrics != nil {
		c.metrics.RecordResident(len(c.blocks))
	}
}

func (c *Cache) observeGet(hit bool, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveGet(hit, time.Since(start))
	}
}

// Stats returns a snapshot of cache-wide counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirty := 0
	for _, b := range c.blocks {
		if b.dirty {
			dirty++
		}
	}

	return Stats{
		Capacity:   c.capacity,
		Resident:   len(c.blocks),
		Dirty:      dirty,
		DirtyBytes: c.dirtyBytes,
	}
}

// Close marks the cache closed. Callers should Flush(level=1) first to
// avoid losing dirty data.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.blocks = nil
	c.clean = nil
	return nil
}
