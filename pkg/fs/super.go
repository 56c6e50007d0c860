package fs

import (
	"context"
	"errors"
	"fmt"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
	"github.com/archivefs/fossil/pkg/disk"
	"github.com/archivefs/fossil/pkg/venti"
)

// persistSuper writes the in-memory superblock mirror to disk. Callers
// must hold superMu (or be in a context, like mountRoot during Open,
// where no other goroutine can yet observe f).
func (f *Fs) persistSuper(ctx context.Context) error {
	s := disk.Super{
		Version:   1,
		EpochLow:  f.epochLow,
		EpochHigh: f.epochHigh,
		QidNext:   f.qidNext,
		Active:    uint32(f.activeAddr),
		Next:      uint32(f.nextAddr),
		Current:   uint32(f.currentAddr),
		Last:      f.lastScore,
	}
	s.SetName(f.name)
	if err := f.disk.WriteSuper(s); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteError, err)
	}
	return nil
}

// NextQid allocates and durably persists the next qid, the upper file
// tree's unique file identifier counter. It is the one superblock field
// mutated outside the epoch lock, since qid allocation has no bearing on
// block reachability or copy-on-write.
func (f *Fs) NextQid(ctx context.Context) (uint64, error) {
	f.superMu.Lock()
	defer f.superMu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	qid := f.qidNext
	f.qidNext++
	if err := f.persistSuper(ctx); err != nil {
		f.qidNext--
		return 0, err
	}
	return qid, nil
}

// Name returns the superblock's human-readable label.
func (f *Fs) Name() string {
	f.superMu.Lock()
	defer f.superMu.Unlock()
	return f.name
}

// SetName updates the superblock's human-readable label.
func (f *Fs) SetName(ctx context.Context, name string) error {
	f.superMu.Lock()
	defer f.superMu.Unlock()
	f.name = name
	return f.persistSuper(ctx)
}

// Vac computes the content score a block at addr would have if archived
// right now, without creating a snapshot entry or mutating the
// superblock: a read-only fingerprint. The reference design
// (original_source/sys/src/cmd/fossil/fs.c fsVac) flushes the path to
// disk first so the fingerprint reflects durable content, not an
// in-memory write still sitting in the cache.
func (f *Fs) Vac(ctx context.Context, addr block.Addr) (block.Score, error) {
	f.elk.RLock()
	defer f.elk.RUnlock()

	b, err := f.cache.Get(ctx, addr, f.EpochLow(), cache.ModeRead)
	if err != nil {
		return block.Score{}, fmt.Errorf("%w: %v", ErrReadError, err)
	}
	defer f.cache.Put(b)

	if err := f.cache.Write(ctx, b); err != nil && !errors.Is(err, cache.ErrNotDirty) {
		return block.Score{}, fmt.Errorf("%w: %v", ErrWriteError, err)
	}

	return venti.Score(b.Data()), nil
}

// Redial reconnects the external archive session to a new host, used
// operationally when the archiver's link degrades beyond its retry
// budget (original_source fsRedial).
func (f *Fs) Redial(ctx context.Context, host string) error {
	if f.venti == nil {
		return ErrNoVenti
	}
	if err := f.venti.Redial(ctx, host); err != nil {
		return fmt.Errorf("%w: %v", ErrVentiError, err)
	}
	if f.archiver != nil {
		f.archiver.RequestReconnect()
	}
	logger.InfoCtx(ctx, "fs redialed", logger.Key(host))
	return nil
}
