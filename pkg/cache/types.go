// Package cache implements the block cache sitting between the fs and
// source layers and the disk/venti stores.
//
// Every block read or written by the source layer passes through the
// cache. Blocks carry a refcount (held while a caller is using the
// block), a dirty flag (the in-memory copy differs from what's on
// disk), and a dependency list (other blocks that must reach disk
// first because this block's content points at them).
package cache

import (
	"errors"
	"time"
)

// Mode selects how a cache lookup treats the requested block's label.
type Mode int

const (
	// ModeRead requires the block to already be allocated.
	ModeRead Mode = iota
	// ModeWrite allows allocating a previously free block.
	ModeWrite
	// ModeWriteOnce skips loading existing content; the caller will
	// overwrite the whole block (used when allocating a fresh block).
	ModeWriteOnce
)

// IOState tracks the in-flight disk/venti operation for a block.
type IOState int

const (
	IOClean IOState = iota
	IOReading
	IOWriting
)

func (s IOState) String() string {
	switch s {
	case IOClean:
		return "clean"
	case IOReading:
		return "reading"
	case IOWriting:
		return "writing"
	default:
		return "unknown"
	}
}

var (
	// ErrCacheClosed is returned when operations are attempted on a closed cache.
	ErrCacheClosed = errors.New("cache: closed")

	// ErrBadLabel is returned when a block's on-disk label doesn't match
	// the access mode requested by the caller.
	ErrBadLabel = errors.New("cache: bad label")

	// ErrNotDirty is returned when Write is called on a clean block.
	ErrNotDirty = errors.New("cache: block not dirty")
)

// Stats reports cache-wide counters for observability.
type Stats struct {
	Capacity   int
	Resident   int
	Dirty      int
	DirtyBytes int64
	Evictions  int64
	Hits       int64
	Misses     int64
}

// CacheMetrics is implemented by an observability backend (Prometheus,
// StatsD, or an in-memory test double) that wants to be told about
// cache activity. Nil-safe: the cache checks for nil before calling.
type CacheMetrics interface {
	ObserveGet(hit bool, duration time.Duration)
	ObserveWrite(bytes int, duration time.Duration)
	ObserveFlush(blocksWritten int, duration time.Duration)
	RecordDirtyBytes(bytes int64)
	RecordResident(count int)
}
