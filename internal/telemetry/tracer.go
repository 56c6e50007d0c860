package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for spans across the cache, disk, source, and snapshot
// layers, following OpenTelemetry semantic convention style (dotted,
// namespaced).
const (
	// Block coordinates
	AttrPart  = "block.part" // super, label, data, venti
	AttrAddr  = "block.addr"
	AttrTag   = "block.tag"
	AttrEpoch = "block.epoch"
	AttrScore = "block.score"
	AttrState = "block.state"
	AttrRole  = "block.role" // derived tagged-variant role

	// Operation identity
	AttrOperation = "fs.operation"
	AttrGoroutine = "fs.goroutine_role" // mutator, snapshot, archiver

	// Cache attributes
	AttrCacheHit    = "cache.hit"
	AttrDirtyBytes  = "cache.dirty_bytes"
	AttrCacheSize   = "cache.size"

	// Archive / external store attributes
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrJobID  = "archive.job_id"
)

// Span names for operations traced across the file system.
const (
	SpanCacheGet   = "cache.get"
	SpanCacheWrite = "cache.write"
	SpanCacheFlush = "cache.flush"
	SpanCacheEvict = "cache.evict"

	SpanFsSnapshot   = "fs.snapshot"
	SpanArchiveWalk  = "archive.walk"
	SpanArchiveWrite = "archive.write"
	SpanFsck         = "fs.fsck"
)

// Part returns an attribute for a partition name.
func Part(p string) attribute.KeyValue { return attribute.String(AttrPart, p) }

// Addr returns an attribute for a block address.
func Addr(addr uint32) attribute.KeyValue { return attribute.Int64(AttrAddr, int64(addr)) }

// Tag returns an attribute for a source tag.
func Tag(tag uint32) attribute.KeyValue { return attribute.Int64(AttrTag, int64(tag)) }

// Epoch returns an attribute for an epoch number.
func Epoch(epoch uint32) attribute.KeyValue { return attribute.Int64(AttrEpoch, int64(epoch)) }

// Score returns an attribute for a content score's hex string.
func Score(hex string) attribute.KeyValue { return attribute.String(AttrScore, hex) }

// State returns an attribute for a label's raw state string.
func State(s string) attribute.KeyValue { return attribute.String(AttrState, s) }

// BlockRole returns an attribute for a label's derived tagged-variant role.
func BlockRole(r string) attribute.KeyValue { return attribute.String(AttrRole, r) }

// FSOperation returns an attribute for the operation name.
func FSOperation(op string) attribute.KeyValue { return attribute.String(AttrOperation, op) }

// GoroutineRole returns an attribute for the calling goroutine's role.
func GoroutineRole(role string) attribute.KeyValue { return attribute.String(AttrGoroutine, role) }

// CacheHit returns an attribute for cache hit indicator
func CacheHit(hit bool) attribute.KeyValue { return attribute.Bool(AttrCacheHit, hit) }

// DirtyBytes returns an attribute for the cache's current dirty byte count.
func DirtyBytes(n int64) attribute.KeyValue { return attribute.Int64(AttrDirtyBytes, n) }

// CacheSize returns an attribute for the cache's configured size.
func CacheSize(n int64) attribute.KeyValue { return attribute.Int64(AttrCacheSize, n) }

// Bucket returns an attribute for the venti store's bucket name.
func Bucket(name string) attribute.KeyValue { return attribute.String(AttrBucket, name) }

// StorageKey returns an attribute for an object key in the venti store.
func StorageKey(key string) attribute.KeyValue { return attribute.String(AttrKey, key) }

// JobID returns an attribute for an archiver job's correlation ID.
func JobID(id string) attribute.KeyValue { return attribute.String(AttrJobID, id) }

// StartCacheSpan starts a span for a cache operation.
func StartCacheSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{FSOperation(operation)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "cache."+operation, trace.WithAttributes(allAttrs...))
}

// StartArchiveSpan starts a span for an archiver subtree walk or write.
func StartArchiveSpan(ctx context.Context, operation string, jobID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{JobID(jobID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "archive."+operation, trace.WithAttributes(allAttrs...))
}

// StartSnapshotSpan starts a span for the snapshot protocol's five phases.
func StartSnapshotSpan(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{FSOperation(phase)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, SpanFsSnapshot+"."+phase, trace.WithAttributes(allAttrs...))
}

// StartSourceSpan starts a span for a source tree-walk operation.
func StartSourceSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{FSOperation(operation)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "source."+operation, trace.WithAttributes(allAttrs...))
}
