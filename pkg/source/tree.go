package source

import (
	"context"
	"fmt"

	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
)

// pointersPerBlock returns how many child addresses fit in one indirect
// block at this source's block size.
func (s *Source) pointersPerBlock() int { return s.blockSize / addrSize }

// leafSpan returns how many bytes one leaf block covers.
func (s *Source) leafSpan() uint64 { return uint64(s.blockSize) }

// capacityAtDepth returns the number of bytes addressable by a tree of
// the given depth (0 = root is itself a leaf).
func (s *Source) capacityAtDepth(depth uint8) uint64 {
	n := s.leafSpan()
	for i := uint8(0); i < depth; i++ {
		n *= uint64(s.pointersPerBlock())
	}
	return n
}

// Grow increases the tree's depth until offset falls within its
// capacity, wrapping the current root in a new pointer block each
// step. The old root becomes child 0 of the new one.
func (s *Source) Grow(ctx context.Context, offset uint64) error {
	if s.mode != OReadWrite {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.capacityAtDepth(s.depth) <= offset {
		if s.depth >= maxDepth {
			return ErrTooDeep
		}
		if err := s.wrapRootLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) wrapRootLocked(ctx context.Context) error {
	newRoot, err := s.c.Alloc(ctx, s.epoch, s.tag, block.Type{Kind: block.KindData, Level: s.depth + 1}, 0)
	if err != nil {
		return fmt.Errorf("source: grow tag=%d: %w", s.tag, err)
	}
	encodeAddr(newRoot.Data()[0:addrSize], s.root.Addr())
	s.c.Dependency(newRoot, s.root, block.Score{})
	s.depth++
	s.c.Put(s.root)
	s.root = newRoot
	return nil
}

// ReadAt reads len(buf) bytes starting at offset, returning the number
// of bytes actually read (fewer than len(buf) at end of file).
func (s *Source) ReadAt(ctx context.Context, buf []byte, offset uint64) (int, error) {
	ctx, span := telemetry.StartSourceSpan(ctx, "read", telemetry.Tag(uint32(s.tag)))
	defer span.End()

	s.mu.Lock()
	size := s.size
	s.mu.Unlock()

	if offset >= size {
		return 0, nil
	}
	if uint64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}

	n := 0
	for n < len(buf) {
		leaf, leafOffset, err := s.leaf(ctx, offset+uint64(n), false)
		if err != nil {
			return n, err
		}
		chunk := copy(buf[n:], leaf.Data()[leafOffset:])
		s.c.Put(leaf)
		n += chunk
	}
	return n, nil
}

// WriteAt writes len(buf) bytes at offset, growing the tree and the
// source's logical size as needed, and copy-on-writing any block on
// the path that is still shared with a closed snapshot.
func (s *Source) WriteAt(ctx context.Context, buf []byte, offset uint64) (int, error) {
	if s.mode != OReadWrite {
		return 0, ErrReadOnly
	}
	ctx, span := telemetry.StartSourceSpan(ctx, "write", telemetry.Tag(uint32(s.tag)))
	defer span.End()

	end := offset + uint64(len(buf))
	if err := s.Grow(ctx, end); err != nil && end > 0 {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		leaf, leafOffset, err := s.leaf(ctx, offset+uint64(n), true)
		if err != nil {
			return n, err
		}
		chunk := copy(leaf.Data()[leafOffset:], buf[n:])
		s.c.Dirty(leaf)
		s.c.Put(leaf)
		n += chunk
	}

	s.mu.Lock()
	if end > s.size {
		s.size = end
	}
	s.mu.Unlock()
	return n, nil
}

// leaf descends from the root to the leaf block covering offset,
// allocating missing pointer/leaf blocks and copy-on-writing shared
// ones along the way when forWrite is set. It returns the leaf block
// (held; caller must Put it) and the byte offset within it.
func (s *Source) leaf(ctx context.Context, offset uint64, forWrite bool) (*cache.Block, int, error) {
	s.mu.Lock()
	rootAddr := s.root.Addr()
	depth := s.depth
	s.mu.Unlock()

	rootMode := cache.ModeRead
	if forWrite {
		rootMode = cache.ModeWrite
	}
	// A fresh hold on the root, independent of the one the Source keeps
	// for its own lifetime (released by Close), so this traversal can
	// Put its way down the path without releasing the Source's hold.
	cur, err := s.c.Get(ctx, rootAddr, s.epochLow(), rootMode)
	if err != nil {
		return nil, 0, err
	}

	if depth == 0 && forWrite && s.needsCopy(cur) {
		cur, err = s.copyOnWriteRoot(ctx, cur)
		if err != nil {
			return nil, 0, err
		}
	}

	remaining := offset
	for level := depth; level > 0; level-- {
		span := s.capacityAtDepth(level - 1)
		idx := remaining / span
		remaining = remaining % span

		slot := int(idx) * addrSize
		childAddr := decodeAddr(cur.Data()[slot : slot+addrSize])

		if childAddr == block.NilAddr {
			if !forWrite {
				s.c.Put(cur)
				return nil, 0, fmt.Errorf("source: read past allocated extent at tag=%d", s.tag)
			}
			child, err := s.c.Alloc(ctx, s.epoch, s.tag, block.Type{Kind: block.KindData, Level: level - 1}, cur.Addr())
			if err != nil {
				s.c.Put(cur)
				return nil, 0, err
			}
			encodeAddr(cur.Data()[slot:slot+addrSize], child.Addr())
			s.c.Dirty(cur)
			s.c.Dependency(cur, child, block.Score{})
			s.c.Put(cur)
			cur = child
			continue
		}

		mode := cache.ModeRead
		if forWrite {
			mode = cache.ModeWrite
		}
		child, err := s.c.Get(ctx, childAddr, s.epochLow(), mode)
		if err != nil {
			s.c.Put(cur)
			return nil, 0, err
		}

		if forWrite && s.needsCopy(child) {
			copied, err := s.copyOnWrite(ctx, cur, slot, child)
			s.c.Put(child)
			if err != nil {
				s.c.Put(cur)
				return nil, 0, err
			}
			child = copied
		}

		s.c.Put(cur)
		cur = child
	}

	return cur, int(remaining), nil
}

// Rewalk forces a copy-on-write of the source's root if it is still
// dated to an epoch older than newEpoch, then adopts newEpoch as the
// epoch under which any further write allocates. It is the snapshot
// protocol's phase 2 (§4.4): called on every tracked writer immediately
// after the epoch is bumped, so none of them keep extending a tree that
// is still rooted in the epoch just frozen.
func (s *Source) Rewalk(ctx context.Context, newEpoch uint32) error {
	if s.mode != OReadWrite {
		s.mu.Lock()
		s.epoch = newEpoch
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	if s.epoch == newEpoch {
		s.mu.Unlock()
		return nil
	}
	rootAddr := s.root.Addr()
	s.epoch = newEpoch
	s.mu.Unlock()

	cur, err := s.c.Get(ctx, rootAddr, s.epochLow(), cache.ModeWrite)
	if err != nil {
		return fmt.Errorf("source: rewalk tag=%d: %w", s.tag, err)
	}

	if !s.needsCopy(cur) {
		s.c.Put(cur)
		return nil
	}

	copied, err := s.copyOnWriteRoot(ctx, cur)
	if err != nil {
		return fmt.Errorf("source: rewalk tag=%d: %w", s.tag, err)
	}
	s.c.Put(copied)
	return nil
}

// needsCopy reports whether b was allocated under an older epoch than
// the source's current write epoch, meaning it may still be reachable
// from a closed snapshot and must be copied before this source can
// modify it in place.
func (s *Source) needsCopy(b *cache.Block) bool {
	return b.Label().Epoch != s.epoch
}

// copyOnWrite allocates a fresh block, duplicates b's contents into it
// under the source's current epoch, rewrites parent's pointer slot to
// the new address, and records the dependency that parent must not be
// written before the copy lands. Per §4.3's "Active(x), x<h -> Snap(h-1)"
// transition, b itself is retired: it is marked Copied (a newer block now
// holds its contents) and closed at s.epoch-1, the last epoch under which
// it was still part of the active tree.
func (s *Source) copyOnWrite(ctx context.Context, parent *cache.Block, slot int, b *cache.Block) (*cache.Block, error) {
	copied, err := s.c.Alloc(ctx, s.epoch, s.tag, b.Label().Type, b.Addr())
	if err != nil {
		return nil, fmt.Errorf("source: copy-on-write tag=%d: %w", s.tag, err)
	}
	copy(copied.Data(), b.Data())
	s.c.Dirty(copied)

	encodeAddr(parent.Data()[slot:slot+addrSize], copied.Addr())
	s.c.Dirty(parent)
	s.c.Dependency(parent, copied, block.Score{})

	s.c.MarkCopied(b)
	s.c.CloseEpoch(b, s.epoch-1)

	return copied, nil
}

// copyOnWriteRoot handles the special case of a Source whose root block
// itself is still shared with a closed snapshot. Unlike an interior
// node, the root has no parent pointer slot within this source's own
// tree to rewrite: the Source's in-memory root pointer is itself the
// only reference, so copying the root just means replacing that
// pointer. The containing directory's Entry for this source keeps
// pointing at it by Tag, not by address, so no sibling update is
// needed here; a subsequent snapshot walk picks up the new address the
// next time it resolves this tag.
func (s *Source) copyOnWriteRoot(ctx context.Context, oldRoot *cache.Block) (*cache.Block, error) {
	copied, err := s.c.Alloc(ctx, s.epoch, s.tag, oldRoot.Label().Type, oldRoot.Addr())
	if err != nil {
		s.c.Put(oldRoot)
		return nil, fmt.Errorf("source: copy-on-write root tag=%d: %w", s.tag, err)
	}
	copy(copied.Data(), oldRoot.Data())
	s.c.Dirty(copied)

	// Retire oldRoot per §4.3's "Active(x), x<h -> Snap(h-1)" transition,
	// same as the interior-node case in copyOnWrite.
	s.c.MarkCopied(oldRoot)
	s.c.CloseEpoch(oldRoot, s.epoch-1)
	s.c.Put(oldRoot)

	newHold, err := s.c.Get(ctx, copied.Addr(), s.epochLow(), cache.ModeRead)
	if err != nil {
		return nil, fmt.Errorf("source: copy-on-write root tag=%d: %w", s.tag, err)
	}

	s.mu.Lock()
	oldPermanent := s.root
	s.root = newHold
	s.mu.Unlock()
	s.c.Put(oldPermanent)

	return copied, nil
}
