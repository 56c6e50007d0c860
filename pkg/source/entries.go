package source

import (
	"context"
	"fmt"

	"github.com/archivefs/fossil/pkg/block"
)

// ErrNotDir is returned by entry operations on a Source that is not a
// directory.
var ErrNotDir = fmt.Errorf("source: not a directory")

// EntryCount returns how many Entry slots this directory source
// currently spans, rounding down any partial trailing slot.
func (s *Source) EntryCount() (int, error) {
	if !s.dir {
		return 0, ErrNotDir
	}
	return int(s.Size() / block.EntrySize), nil
}

// GetEntry reads the child Entry at the given slot index within this
// directory source.
func (s *Source) GetEntry(ctx context.Context, index int) (block.Entry, error) {
	if !s.dir {
		return block.Entry{}, ErrNotDir
	}
	buf := make([]byte, block.EntrySize)
	n, err := s.ReadAt(ctx, buf, uint64(index)*block.EntrySize)
	if err != nil {
		return block.Entry{}, fmt.Errorf("source: get entry %d: %w", index, err)
	}
	if n < block.EntrySize {
		return block.Entry{}, nil
	}
	return block.DecodeEntry(buf), nil
}

// SetEntry writes (or allocates and writes) the child Entry at the
// given slot index, growing the directory source if index is one past
// its current end.
func (s *Source) SetEntry(ctx context.Context, index int, e block.Entry) error {
	if !s.dir {
		return ErrNotDir
	}
	buf := make([]byte, block.EntrySize)
	e.Encode(buf)
	if _, err := s.WriteAt(ctx, buf, uint64(index)*block.EntrySize); err != nil {
		return fmt.Errorf("source: set entry %d: %w", index, err)
	}
	return nil
}

// ClearEntry marks the slot at index unused by zeroing it in place; the
// slot itself is not reclaimed, matching the reference allocator's
// practice of leaving tombstoned slots for reuse by a later create.
func (s *Source) ClearEntry(ctx context.Context, index int) error {
	return s.SetEntry(ctx, index, block.Entry{})
}
