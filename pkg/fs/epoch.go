package fs

import (
	"context"
	"fmt"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
	"github.com/archivefs/fossil/pkg/source"
)

// rootBackpointerSlot is the Entry slot inside the root directory block
// reserved for bumpEpoch's debugging aid: a pointer back at the root this
// one was copied from. Slot 0 is reserved for the root's own self-entry
// bookkeeping (depth/size); ordinary directory entries start at slot 2.
const rootBackpointerSlot = 1

// bumpEpoch is phase 1 of the snapshot protocol (§4.4): it deep-copies
// the active root into a freshly allocated block at epochHigh+1, leaves a
// debugging back-pointer to the old root, and durably commits the new
// epoch to the superblock. Callers must hold elk for write.
func (f *Fs) bumpEpoch(ctx context.Context) (newAddr, oldAddr block.Addr, err error) {
	ctx, span := telemetry.StartSnapshotSpan(ctx, "bump_epoch")
	defer span.End()

	f.superMu.Lock()
	newHigh := f.epochHigh + 1
	oldAddr = f.activeAddr
	f.superMu.Unlock()

	oldRoot, err := f.cache.Get(ctx, oldAddr, f.EpochLow(), cache.ModeRead)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadRoot, err)
	}

	newRoot, err := f.cache.Alloc(ctx, newHigh, block.TagRoot, block.Type{Kind: block.KindDir, Level: 0}, oldAddr)
	if err != nil {
		f.cache.Put(oldRoot)
		return 0, 0, fmt.Errorf("fs: bump epoch: allocate new root: %w", err)
	}
	copy(newRoot.Data(), oldRoot.Data())

	// Design note (c): the reference implementation computes this
	// back-pointer but only prints it under a disabled debug branch.
	// We preserve the computation (it is genuinely useful for an
	// offline fsck walking the epoch history) and simply never log it.
	var backptr block.Entry
	backptr.SetLocalAddr(oldAddr)
	backptr.Generation = f.EpochHigh()
	buf := make([]byte, block.EntrySize)
	backptr.Encode(buf)
	copy(newRoot.Data()[rootBackpointerSlot*block.EntrySize:(rootBackpointerSlot+1)*block.EntrySize], buf)

	f.cache.Dirty(newRoot)

	// oldRoot is retired by this bump the same way copyOnWriteRoot retires
	// an interior source's root (§4.3's "Active(x), x<h -> Snap(h-1)"):
	// a fresh block now holds its contents under the new epoch, and it is
	// closed at the epoch it stopped being the active tree's root.
	f.cache.MarkCopied(oldRoot)
	f.cache.CloseEpoch(oldRoot, newHigh-1)
	f.cache.Put(oldRoot)

	// The new root must hit disk before the super-block is written, so a
	// crash between the two leaves the pre-transition tree intact.
	if err := f.cache.Write(ctx, newRoot); err != nil {
		f.cache.Put(newRoot)
		return 0, 0, fmt.Errorf("%w: %v", ErrWriteError, err)
	}
	newAddr = newRoot.Addr()
	f.cache.Put(newRoot)

	f.superMu.Lock()
	f.epochHigh = newHigh
	f.activeAddr = newAddr
	persistErr := f.persistSuper(ctx)
	f.superMu.Unlock()
	if persistErr != nil {
		return 0, 0, persistErr
	}

	if err := f.reopenRoot(ctx, newAddr); err != nil {
		return 0, 0, err
	}

	logger.InfoCtx(ctx, "epoch bumped", logger.Epoch(newHigh))
	return newAddr, oldAddr, nil
}

// reopenRoot swaps the Fs's held root Source for one rooted at addr,
// after a bumpEpoch or an archive-triggered second bump relocates it.
func (f *Fs) reopenRoot(ctx context.Context, addr block.Addr) error {
	old := f.root
	newRoot, err := source.Open(ctx, f.cache, addr, block.TagRoot, 0, old.Size(), true, source.OReadWrite, f.EpochLow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRoot, err)
	}
	f.root = newRoot
	return old.Close()
}

// EpochLowSet raises the reclamation watermark and reclaims every Zombie
// block (a fully-archived Snap block whose epochClose has fallen at or
// below the new watermark and that is not dirty in the cache) back to
// Free. It corresponds to fsEpochLow(fs, newLow).
func (f *Fs) EpochLowSet(ctx context.Context, newLow uint32) (int, error) {
	f.elk.Lock()
	defer f.elk.Unlock()

	f.superMu.Lock()
	if newLow < f.epochLow {
		f.superMu.Unlock()
		return 0, fmt.Errorf("fs: epochLow must not move backward: have %d, want %d", f.epochLow, newLow)
	}
	if newLow > f.epochHigh {
		f.superMu.Unlock()
		return 0, fmt.Errorf("fs: epochLow must not exceed epochHigh (%d)", f.epochHigh)
	}
	f.epochLow = newLow
	err := f.persistSuper(ctx)
	f.superMu.Unlock()
	if err != nil {
		return 0, err
	}

	n := f.reclaimZombies(ctx, newLow)
	if f.metrics != nil {
		f.metrics.RecordReclaimed(n)
	}
	logger.InfoCtx(ctx, "epoch low advanced", logger.Epoch(newLow), logger.Attempt(n))
	return n, nil
}

// reclaimZombies scans the label partition and frees every block whose
// derived role is Zombie under epochLow, skipping any block that is
// resident and dirty in the cache (and therefore possibly queued for
// write).
func (f *Fs) reclaimZombies(ctx context.Context, epochLow uint32) int {
	n := f.disk.NumDataBlocks()
	freed := 0
	for a := uint32(0); a < n; a++ {
		addr := block.Addr(a)
		label, err := f.disk.ReadLabel(addr)
		if err != nil {
			continue
		}
		if label.Role(epochLow) != block.RoleZombie {
			continue
		}
		if resident, dirty := f.cache.Resident(addr); resident && dirty {
			continue
		}
		if err := f.disk.WriteLabel(addr, block.Label{}); err != nil {
			continue
		}
		freed++
	}
	return freed
}
