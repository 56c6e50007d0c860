// Package source implements the tree-walking layer that sits above the
// block cache: a Source is the read/write handle for one file or
// directory's block tree, identified by its root Tag. Growing a file
// beyond what the current tree depth can address wraps the root in a
// new pointer block; writing any block below an already-copied root
// copies every block on the path down to it first (copy-on-write),
// recorded as cache dependencies so the cache writes children before
// parents.
package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
)

// AccessMode controls whether a Source permits writes.
type AccessMode int

const (
	// OReadOnly permits Read but rejects Write/Grow/Remove.
	OReadOnly AccessMode = iota
	// OReadWrite permits both reads and writes.
	OReadWrite
)

var (
	// ErrReadOnly is returned by write operations on a Source opened OReadOnly.
	ErrReadOnly = errors.New("source: read-only")
	// ErrTooDeep is returned when an offset cannot be addressed even after
	// growing the tree to its maximum depth.
	ErrTooDeep = errors.New("source: offset exceeds maximum tree depth")
)

// maxDepth bounds how many times Grow will wrap the root before giving up.
const maxDepth = 7

// addrSize is the byte width of one child Addr pointer in an indirect
// block; pointersPerBlock derives the per-block count from each Source's
// block size, which Open takes from the cache.
const addrSize = 4

// Source is the handle for one logical file or directory's block tree,
// rooted at a block tagged with Tag. Entries in a directory's leaf
// blocks point at child Sources by Tag, not by address, so a child can
// be relocated (copy-on-write) without its parent directory entry
// needing to change — only the entry's Score/Depth/Size are updated.
type Source struct {
	mu sync.Mutex

	c       *cache.Cache
	epochLow func() uint32

	tag   block.Tag
	mode  AccessMode
	epoch uint32
	dir   bool

	root     *cache.Block
	depth    uint8 // height of the tree; 0 means root is itself a leaf
	size     uint64
	blockSize int

	parent       *Source // nil for the file system root
	parentOffset int     // byte offset of this source's Entry within parent's leaf block
}

// Open returns the handle for the source rooted at rootAddr, reading its
// label to recover the tree's current tag/epoch/depth. epochLowFn
// supplies the file system's current low epoch watermark at the moment
// each operation needs it, since that watermark can advance while a
// Source stays open.
func Open(ctx context.Context, c *cache.Cache, rootAddr block.Addr, tag block.Tag, depth uint8, size uint64, dir bool, mode AccessMode, epochLowFn func() uint32) (*Source, error) {
	ctx, span := telemetry.StartSourceSpan(ctx, "open", telemetry.Tag(uint32(tag)))
	defer span.End()

	root, err := c.Get(ctx, rootAddr, epochLowFn(), readModeFor(mode))
	if err != nil {
		return nil, fmt.Errorf("source: open tag=%d: %w", tag, err)
	}

	return &Source{
		c:         c,
		epochLow:  epochLowFn,
		tag:       tag,
		mode:      mode,
		epoch:     root.Label().Epoch,
		dir:       dir,
		root:      root,
		depth:     depth,
		size:      size,
		blockSize: len(root.Data()),
	}, nil
}

func readModeFor(mode AccessMode) cache.Mode {
	if mode == OReadWrite {
		return cache.ModeWrite
	}
	return cache.ModeRead
}

// Tag returns the source's root tag.
func (s *Source) Tag() block.Tag { return s.tag }

// Size returns the source's current logical byte size.
func (s *Source) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close releases the source's held root block. It does not flush;
// callers rely on the cache's background flush or an explicit
// snapshot to persist dirty blocks.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		s.c.Put(s.root)
		s.root = nil
	}
	return nil
}

// encodeAddr/decodeAddr pack a child pointer into an indirect block's
// fixed-width slot.
func encodeAddr(buf []byte, a block.Addr) {
	binary.BigEndian.PutUint32(buf, uint32(a))
}

func decodeAddr(buf []byte) block.Addr {
	return block.Addr(binary.BigEndian.Uint32(buf))
}
