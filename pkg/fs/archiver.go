package fs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/archivefs/fossil/internal/logger"
	"github.com/archivefs/fossil/internal/telemetry"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/cache"
	"github.com/archivefs/fossil/pkg/venti"
)

// archiveJob is one kicked-off subtree archive: the frozen root to walk
// and the epoch it was frozen at.
type archiveJob struct {
	root  block.Addr
	epoch uint32
}

// Archiver is the independent goroutine described in §4.4: it walks the
// subtree rooted at super.next in post-order, stores each block via the
// external content store, and transitions blocks through ActiveRO/SnapRO
// into ActiveA/SnapA as their external writes land. It never blocks a
// mutator; a stalled external store only pauses the archiver's own walk.
type Archiver struct {
	fs      *Fs
	venti   venti.Session
	metrics ArchiveMetrics

	jobs chan archiveJob
	done chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	reconnect  bool
	inProgress bool
}

// NewArchiver constructs an Archiver bound to fs and starts its worker
// goroutine. The caller (Fs.Open) owns stopping it via Stop.
func NewArchiver(fs *Fs, v venti.Session, metrics ArchiveMetrics) *Archiver {
	a := &Archiver{
		fs:      fs,
		venti:   v,
		metrics: metrics,
		jobs:    make(chan archiveJob, 4),
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Kick enqueues a frozen subtree for archival. If the archiver is still
// walking a previous job, this one waits in the buffered channel (up to
// four queued jobs; beyond that Kick blocks until a slot frees or the
// archiver is stopped), mirroring the reference design's "partial
// progress is preserved, the walk pauses and retries" tolerance for
// backlog.
func (a *Archiver) Kick(root block.Addr, epoch uint32) {
	select {
	case a.jobs <- archiveJob{root: root, epoch: epoch}:
	case <-a.done:
	}
}

// RequestReconnect asks the archiver to redial its venti session before
// its next retry, used by fsRedial when the external link degrades.
func (a *Archiver) RequestReconnect() {
	a.mu.Lock()
	a.reconnect = true
	a.mu.Unlock()
}

// Stop signals the worker goroutine to exit once its current job (if
// any) completes, then waits for it.
func (a *Archiver) Stop() {
	close(a.done)
	a.wg.Wait()
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.jobs:
			a.process(job)
		case <-a.done:
			return
		}
	}
}

// process walks one frozen subtree to completion, retrying the whole
// walk (with exponential backoff, per §7 VentiError policy: "surfaced
// to the caller; archiver pauses and retries") until it succeeds or the
// archiver is stopped.
func (a *Archiver) process(job archiveJob) {
	ctx := context.Background()
	ctx = telemetryRole(ctx, logger.RoleArchiver)
	jobID := uuid.NewString()
	ctx, span := telemetry.StartArchiveSpan(ctx, "walk", jobID, telemetry.Addr(uint32(job.root)), telemetry.Epoch(job.epoch))
	defer span.End()

	a.mu.Lock()
	a.inProgress = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inProgress = false
		a.mu.Unlock()
	}()

	start := time.Now()
	logger.InfoCtx(ctx, "archive walk starting", logger.JobID(jobID), logger.Addr(uint32(job.root)), logger.Epoch(job.epoch))

	var score block.Score
	var blocksArchived int
	backoffDelay := time.Second
	for {
		select {
		case <-a.done:
			return
		default:
		}

		a.mu.Lock()
		if a.reconnect {
			a.reconnect = false
			a.mu.Unlock()
			if err := a.venti.Redial(ctx, ""); err != nil {
				logger.WarnCtx(ctx, "archiver reconnect failed", logger.JobID(jobID), logger.Err(err))
			}
		} else {
			a.mu.Unlock()
		}

		n := 0
		var err error
		score, n, err = a.walk(ctx, job.root, job.epoch, jobID)
		blocksArchived = n
		if err == nil {
			break
		}

		logger.WarnCtx(ctx, "archive walk failed, retrying", logger.JobID(jobID), logger.Err(err), logger.Attempt(1))
		select {
		case <-time.After(backoffDelay):
		case <-a.done:
			return
		}
		backoffDelay *= 2
		if backoffDelay > 2*time.Minute {
			backoffDelay = 2 * time.Minute
		}
	}

	if err := a.publish(ctx, score); err != nil {
		logger.ErrorCtx(ctx, "archive publish failed", logger.JobID(jobID), logger.Err(err))
		return
	}

	if a.metrics != nil {
		a.metrics.ObserveArchiveWalk(blocksArchived, time.Since(start))
	}
	logger.InfoCtx(ctx, "archive walk complete",
		logger.JobID(jobID), logger.Score(score.String()), logger.Attempt(blocksArchived))
}

// publish atomically records the completed archive's root score as
// super.last and clears super.next, per §4.4's final archive-kick step.
func (a *Archiver) publish(ctx context.Context, score block.Score) error {
	f := a.fs
	f.superMu.Lock()
	defer f.superMu.Unlock()
	f.lastScore = score
	f.currentAddr = f.nextAddr
	f.nextAddr = block.NilAddr
	return f.persistSuper(ctx)
}

// walk archives the subtree rooted at addr (tagged tag, frozen at epoch)
// in post-order: children and, for directory blocks, every not-yet-
// archived child source, are stored before the block itself. It returns
// the root block's content score and the number of blocks it archived
// on this pass (blocks already carrying the Venti state bit are skipped,
// so a retried walk only pays for what it didn't finish last time).
func (a *Archiver) walk(ctx context.Context, addr block.Addr, epoch uint32, jobID string) (block.Score, int, error) {
	return a.walkTag(ctx, addr, block.TagRoot, epoch, jobID)
}

func (a *Archiver) walkTag(ctx context.Context, addr block.Addr, tag block.Tag, epoch uint32, jobID string) (block.Score, int, error) {
	if addr == block.NilAddr {
		return block.Score{}, 0, nil
	}

	c := a.fs.cache
	b, err := c.Get(ctx, addr, a.fs.EpochLow(), cache.ModeWrite)
	if err != nil {
		return block.Score{}, 0, fmt.Errorf("archiver: get %d: %w", addr, err)
	}

	if b.Label().State&block.StateVenti != 0 {
		score := venti.Score(b.Data())
		c.Put(b)
		return score, 0, nil
	}

	typ := b.Label().Type
	total := 0

	if typ.Level > 0 {
		n, err := a.archiveChildren(ctx, b, tag, epoch, jobID)
		if err != nil {
			c.Put(b)
			return block.Score{}, total, err
		}
		total += n
	} else if typ.Kind == block.KindDir {
		n, err := a.archiveEntries(ctx, b, epoch, jobID)
		if err != nil {
			c.Put(b)
			return block.Score{}, total, err
		}
		total += n
	}

	score, err := a.archiveBlock(ctx, b, epoch, jobID)
	c.Put(b)
	if err != nil {
		return block.Score{}, total, err
	}
	return score, total + 1, nil
}

// archiveChildren walks every non-nil address slot of an indirect
// (Level>0) block concurrently, for siblings to upload in parallel.
func (a *Archiver) archiveChildren(ctx context.Context, b *cache.Block, tag block.Tag, epoch uint32, jobID string) (int, error) {
	data := b.Data()
	slots := len(data) / 4
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(8)

	var mu sync.Mutex
	total := 0

	for i := 0; i < slots; i++ {
		slot := i * 4
		childAddr := block.Addr(
			uint32(data[slot])<<24 | uint32(data[slot+1])<<16 | uint32(data[slot+2])<<8 | uint32(data[slot+3]),
		)
		if childAddr == block.NilAddr {
			continue
		}
		p.Go(func(ctx context.Context) error {
			_, n, err := a.walkTag(ctx, childAddr, tag, epoch, jobID)
			if err != nil {
				return err
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// archiveEntries walks a directory leaf block's Entry records, archiving
// each not-yet-archived child source's own tree and rewriting the
// entry's Score/Archive fields in place before the directory block
// itself is archived.
func (a *Archiver) archiveEntries(ctx context.Context, b *cache.Block, epoch uint32, jobID string) (int, error) {
	data := b.Data()
	count := len(data) / block.EntrySize
	total := 0

	for i := 0; i < count; i++ {
		off := i * block.EntrySize
		entry := block.DecodeEntry(data[off : off+block.EntrySize])
		if entry.Tag == 0 || entry.Archive {
			continue
		}

		childAddr := entry.LocalAddr()
		score, n, err := a.walkTag(ctx, childAddr, entry.Tag, epoch, jobID)
		if err != nil {
			return total, fmt.Errorf("archiver: entry tag=%d: %w", entry.Tag, err)
		}
		total += n

		entry.Score = score
		entry.Archive = true
		buf := make([]byte, block.EntrySize)
		entry.Encode(buf)
		copy(data[off:off+block.EntrySize], buf)
		a.fs.cache.Dirty(b)
	}

	return total, nil
}

// archiveBlock stores b's current content via venti, then transitions
// its label. Per §4.3's staged archiver walk ("Active(g) ... transitions
// to ActiveRO(g), then ... to ActiveA(g)", and equivalently for
// Snap/SnapRO/SnapA), a block whose children are already archived is
// first marked Copied (and durably written) before the upload — this is
// the block's ActiveRO/SnapRO interim state, reachable here even for a
// block archiveEntries never routed through a source's copy-on-write
// path. Once the external write lands, Venti is set and the block is
// Closed with its epochClose stamped at the epoch it stopped being live
// (idempotent: a block the COW path already retired keeps its stamp),
// so Label.Role derives SnapA/ActiveA for it from here on and it becomes
// eligible for reclamation once epochLow catches up.
func (a *Archiver) archiveBlock(ctx context.Context, b *cache.Block, epoch uint32, jobID string) (block.Score, error) {
	ctx, span := telemetry.StartArchiveSpan(ctx, "write", jobID, telemetry.Addr(uint32(b.Addr())))
	defer span.End()

	if b.Label().State&block.StateCopied == 0 {
		a.fs.cache.MarkCopied(b)
		if err := a.fs.cache.Write(ctx, b); err != nil {
			return block.Score{}, fmt.Errorf("%w: %v", ErrWriteError, err)
		}
	}

	score, err := a.venti.Write(ctx, b.Label().Type, b.Data())
	if err != nil {
		return block.Score{}, fmt.Errorf("%w: %v", ErrVentiError, err)
	}

	label := b.Label()
	label.State |= block.StateVenti
	if label.State&block.StateClosed == 0 {
		label.State |= block.StateClosed
		label.EpochClose = epoch + 1
	}
	b.SetLabel(label)
	a.fs.cache.Dirty(b)

	if err := a.fs.cache.Write(ctx, b); err != nil {
		return block.Score{}, fmt.Errorf("%w: %v", ErrWriteError, err)
	}

	logger.DebugCtx(ctx, "block archived", logger.Addr(uint32(b.Addr())), logger.Score(score.String()))
	return score, nil
}
