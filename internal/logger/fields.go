package logger

import "log/slog"

// Standard field keys for structured logging across the cache, disk,
// source, and snapshot layers. Use these keys consistently so log
// aggregation and querying stay coherent across packages.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Operation identity
	KeyRole      = "role" // mutator, snapshot, archiver
	KeyOperation = "operation"

	// Block coordinates
	KeyPart  = "part" // super, label, data, venti
	KeyAddr  = "addr"
	KeyTag   = "tag"
	KeyEpoch = "epoch"
	KeyScore = "score"
	KeyState = "state"
	KeyRoleState = "block_role" // derived Role of a block's label

	// Cache layer
	KeyCacheHit      = "cache_hit"
	KeyDirtyBytes    = "dirty_bytes"
	KeyDirtyPercent  = "dirty_percent"
	KeyCacheCapacity = "cache_capacity"
	KeyEvicted       = "evicted"

	// Archive / venti
	KeyBucket     = "bucket"
	KeyKey        = "key"
	KeyJobID      = "job_id"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// RoleAttr returns a slog.Attr for the calling goroutine's role.
func RoleAttr(r Role) slog.Attr { return slog.String(KeyRole, string(r)) }

// Operation returns a slog.Attr for the operation name.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// Part returns a slog.Attr for a partition name.
func Part(p string) slog.Attr { return slog.String(KeyPart, p) }

// Addr returns a slog.Attr for a block address.
func Addr(addr uint32) slog.Attr { return slog.Uint64(KeyAddr, uint64(addr)) }

// Tag returns a slog.Attr for a source tag.
func Tag(tag uint32) slog.Attr { return slog.Uint64(KeyTag, uint64(tag)) }

// Epoch returns a slog.Attr for an epoch number.
func Epoch(epoch uint32) slog.Attr { return slog.Uint64(KeyEpoch, uint64(epoch)) }

// Score returns a slog.Attr for a content score's hex string.
func Score(hex string) slog.Attr { return slog.String(KeyScore, hex) }

// State returns a slog.Attr for a label's raw on-disk state string.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// BlockRole returns a slog.Attr for a label's derived tagged-variant role.
func BlockRole(r string) slog.Attr { return slog.String(KeyRoleState, r) }

// CacheHit returns a slog.Attr for cache hit indicator
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }

// DirtyBytes returns a slog.Attr for the cache's current dirty byte count.
func DirtyBytes(n int64) slog.Attr { return slog.Int64(KeyDirtyBytes, n) }

// DirtyPercent returns a slog.Attr for the cache's current dirty percentage.
func DirtyPercent(pct float64) slog.Attr { return slog.Float64(KeyDirtyPercent, pct) }

// CacheCapacity returns a slog.Attr for maximum cache capacity
func CacheCapacity(capacity int64) slog.Attr { return slog.Int64(KeyCacheCapacity, capacity) }

// Evicted returns a slog.Attr for number of entries evicted
func Evicted(n int) slog.Attr { return slog.Int(KeyEvicted, n) }

// Bucket returns a slog.Attr for the venti store's bucket name.
func Bucket(name string) slog.Attr { return slog.String(KeyBucket, name) }

// Key returns a slog.Attr for an object key in the venti store.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }

// JobID returns a slog.Attr for an archiver job's correlation ID.
func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
