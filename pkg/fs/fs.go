// Package fs is the top-level orchestrator of the epoch-based
// copy-on-write block manager: it owns the disk, the cache, the external
// archive session, and the superblock's epoch/qid watermarks, and wires
// them into the ten operations the (out-of-scope) upper file tree is
// built on: fsOpen, fsClose, fsSync, fsSnapshot, fsEpochLow, fsNextQid,
// fsVac, fsRedial, fsGetRoot, fsGetBlockSize.
//
// Fs never keeps process-wide global state; every operation takes an
// explicit *Fs receiver, per the reference design's "no global mutable
// state" note.
package fs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
	"github.com/archivefs/fossil/pkg/config"
	"github.com/archivefs/fossil/pkg/disk"
	"github.com/archivefs/fossil/pkg/source"
	"github.com/archivefs/fossil/pkg/venti"
)

// Mode selects how Open treats an existing image.
type Mode int

const (
	// ModeNormal opens an already-formatted image.
	ModeNormal Mode = iota
	// ModeReadOnly names a read-only mount. Open takes no Mode argument
	// and no operation checks it, so it has no effect on mutations.
	ModeReadOnly
)

// Fs is one mounted archive file system instance.
type Fs struct {
	// elk is the file system epoch lock: read-held by mutators opening
	// or writing through a Source, write-held only while Snapshot
	// commits a new epoch. Lock order across the package is always
	// (elk, Source lock, Block lock), per §5.
	elk sync.RWMutex

	disk  *disk.Disk
	cache *cache.Cache
	venti venti.Session
	cfg   *config.Config
	mode  Mode

	metrics ArchiveMetrics

	// superMu serializes updates to the in-memory mirror of the
	// superblock and its durable write-through to disk. All public
	// fields below it are only ever read/written while holding superMu.
	superMu     sync.Mutex
	epochLow    uint32
	epochHigh   uint32
	qidNext     uint64
	activeAddr  block.Addr
	nextAddr    block.Addr
	currentAddr block.Addr
	lastScore   block.Score
	name        string

	// root is the Fs's permanent hold on the active tree's root
	// directory Source; GetRoot hands callers a reference to it rather
	// than opening a fresh one per call.
	root *source.Source

	// tracked holds every Source currently open for writing, so
	// Snapshot's rewalk phase (§4.4 phase 2) can force a copy-on-write
	// of each one's path before the epoch is considered durable.
	trackMu sync.Mutex
	tracked map[*source.Source]struct{}

	// upper is the out-of-scope upper file tree, consulted only by
	// Snapshot's publish phase. A nil upper means Snapshot skips
	// publishing a named directory entry for the frozen tree.
	upper UpperTree

	archiver   *Archiver
	archiverWg sync.WaitGroup

	stopTimers context.CancelFunc
	timersWg   sync.WaitGroup

	closed bool
}

// ArchiveMetrics is implemented by an observability backend that wants
// visibility into the snapshot/archive protocol: epoch age, archiver
// throughput, and reclamation counts. Nil-safe like cache.CacheMetrics.
type ArchiveMetrics interface {
	ObserveSnapshot(archived bool, duration time.Duration)
	ObserveArchiveWalk(blocksArchived int, duration time.Duration)
	RecordEpochAge(age time.Duration)
	RecordReclaimed(count int)
}

// Open mounts the file system backed by the image at path, wiring an
// optional external archive session and a bounded block cache. It
// recovers epoch and qid watermarks from the on-disk superblock and
// allocates a root directory block the first time a freshly formatted
// image is mounted.
func Open(ctx context.Context, path string, v venti.Session, cfg *config.Config, metrics ArchiveMetrics, cacheMetrics cache.CacheMetrics) (*Fs, error) {
	d, err := disk.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fs: open: %w", err)
	}

	super, err := d.ReadSuper()
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadRoot, err)
	}

	c := cache.New(d, v, cfg.Cache.Capacity, cfg.Cache.DirtyPercentage, cacheMetrics)

	f := &Fs{
		disk:        d,
		cache:       c,
		venti:       v,
		cfg:         cfg,
		metrics:     metrics,
		epochLow:    super.EpochLow,
		epochHigh:   super.EpochHigh,
		qidNext:     super.QidNext,
		activeAddr:  block.Addr(super.Active),
		nextAddr:    block.Addr(super.Next),
		currentAddr: block.Addr(super.Current),
		lastScore:   super.Last,
		name:        super.NameString(),
		tracked:     make(map[*source.Source]struct{}),
	}

	if err := f.mountRoot(ctx); err != nil {
		c.Close()
		d.Close()
		return nil, err
	}

	if v != nil {
		f.archiver = NewArchiver(f, v, metrics)
	}

	timerCtx, cancel := context.WithCancel(context.Background())
	f.stopTimers = cancel
	f.startTimers(timerCtx)

	logger.InfoCtx(ctx, "fs mounted", logger.Epoch(f.epochHigh))
	return f, nil
}

// mountRoot opens (or, on a freshly formatted image, allocates) the
// active tree's root directory source.
func (f *Fs) mountRoot(ctx context.Context) error {
	label, err := f.disk.ReadLabel(f.activeAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRoot, err)
	}

	if label.Role(f.epochLow) == block.RoleFree {
		b, err := f.cache.Alloc(ctx, f.epochHigh, block.TagRoot, block.Type{Kind: block.KindDir, Level: 0}, 0)
		if err != nil {
			return fmt.Errorf("fs: allocate root: %w", err)
		}
		if err := f.cache.Write(ctx, b); err != nil {
			f.cache.Put(b)
			return fmt.Errorf("fs: persist root: %w", err)
		}
		f.activeAddr = b.Addr()
		f.cache.Put(b)
		if err := f.persistSuper(ctx); err != nil {
			return err
		}
	}

	root, err := source.Open(ctx, f.cache, f.activeAddr, block.TagRoot, 0, 0, true, source.OReadWrite, f.EpochLow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRoot, err)
	}
	f.root = root
	return nil
}

// GetRoot returns the Fs's handle on the active tree's root directory
// Source. The caller must not Close it; its lifetime is owned by Fs.
func (f *Fs) GetRoot() *source.Source {
	return f.root
}

// GetBlockSize returns the disk's fixed block size.
func (f *Fs) GetBlockSize() uint16 {
	return f.disk.BlockSize()
}

// EpochLow returns the file system's current low (reclamation) epoch
// watermark. Matches the source package's epochLowFn shape so Fs itself
// can be passed as the callback to source.Open.
func (f *Fs) EpochLow() uint32 {
	f.superMu.Lock()
	defer f.superMu.Unlock()
	return f.epochLow
}

// EpochHigh returns the file system's current high (mutation) epoch.
func (f *Fs) EpochHigh() uint32 {
	f.superMu.Lock()
	defer f.superMu.Unlock()
	return f.epochHigh
}

// AttachUpperTree wires the out-of-scope upper file tree implementation
// that Snapshot's publish phase calls back into. Safe to call at any
// point before the first Snapshot.
func (f *Fs) AttachUpperTree(upper UpperTree) {
	f.superMu.Lock()
	defer f.superMu.Unlock()
	f.upper = upper
}

// Cache exposes the underlying block cache to callers (the out-of-scope
// upper file tree) that open their own Sources by tag and address.
func (f *Fs) Cache() *cache.Cache { return f.cache }

// OpenSource opens a Source for an existing child tag/address, holding
// the epoch lock for read the way every mutator must. The returned
// Source is tracked so a concurrent Snapshot forces a copy-on-write of
// its path before committing. Callers must Close it when done, which
// untracks it.
func (f *Fs) OpenSource(ctx context.Context, addr block.Addr, tag block.Tag, depth uint8, size uint64, dir bool, mode source.AccessMode) (*source.Source, error) {
	f.elk.RLock()
	defer f.elk.RUnlock()

	src, err := source.Open(ctx, f.cache, addr, tag, depth, size, dir, mode, f.EpochLow)
	if err != nil {
		return nil, err
	}
	if mode == source.OReadWrite {
		f.trackMu.Lock()
		f.tracked[src] = struct{}{}
		f.trackMu.Unlock()
	}
	return src, nil
}

// CloseSource releases a Source opened via OpenSource, untracking it.
func (f *Fs) CloseSource(src *source.Source) error {
	f.trackMu.Lock()
	delete(f.tracked, src)
	f.trackMu.Unlock()
	return src.Close()
}

// Sync flushes every dirty block to disk and fsyncs the underlying image,
// without advancing the epoch. Used by a clean Close; the periodic flush
// timer calls the cache's threshold flush directly instead.
func (f *Fs) Sync(ctx context.Context) error {
	if err := f.cache.Flush(ctx, cache.FlushAll); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteError, err)
	}
	return f.disk.Sync()
}

// Close drains outstanding I/O, flushes everything dirty, stops the
// background timers and archiver, and unmaps the disk image.
func (f *Fs) Close(ctx context.Context) error {
	f.superMu.Lock()
	if f.closed {
		f.superMu.Unlock()
		return ErrClosed
	}
	f.closed = true
	f.superMu.Unlock()

	if f.stopTimers != nil {
		f.stopTimers()
	}
	f.timersWg.Wait()

	if f.archiver != nil {
		f.archiver.Stop()
		f.archiverWg.Wait()
	}

	if err := f.Sync(ctx); err != nil {
		logger.ErrorCtx(ctx, "fs close: final sync failed", logger.Err(err))
	}

	if f.root != nil {
		f.root.Close()
	}
	if err := f.cache.Close(); err != nil {
		logger.ErrorCtx(ctx, "fs close: cache close failed", logger.Err(err))
	}
	return f.disk.Close()
}

// startTimers launches the periodic metadata-flush (cfg.Cache.FlushInterval,
// every 1s by default) and snapshot (cfg.Snapshot.Interval, hourly by
// default) background tasks described in §5; a zero interval skips that
// task.
func (f *Fs) startTimers(ctx context.Context) {
	if f.cfg.Cache.FlushInterval > 0 {
		f.timersWg.Add(1)
		go f.flushLoop(ctx, f.cfg.Cache.FlushInterval)
	}
	if f.cfg.Snapshot.Interval > 0 {
		f.timersWg.Add(1)
		go f.snapshotLoop(ctx, f.cfg.Snapshot.Interval)
	}
}

func (f *Fs) flushLoop(ctx context.Context, interval time.Duration) {
	defer f.timersWg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := f.cache.Flush(ctx, cache.FlushUnderThreshold); err != nil {
				logger.WarnCtx(ctx, "periodic flush failed", logger.Err(err))
			}
		}
	}
}

func (f *Fs) snapshotLoop(ctx context.Context, interval time.Duration) {
	defer f.timersWg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := f.Snapshot(ctx, f.venti != nil); err != nil {
				logger.WarnCtx(ctx, "periodic snapshot failed", logger.Err(err))
			}
		}
	}
}

// telemetryRole tags a span/log context with the calling goroutine's role.
func telemetryRole(ctx context.Context, role logger.Role) context.Context {
	return logger.WithContext(ctx, logger.NewLogContext(role))
}
