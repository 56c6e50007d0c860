// Package venti defines the client side of the external content-addressed
// store archived blocks are published to. A Session writes a block and
// gets back its score, or fetches a block given a score it already holds;
// the store itself is expected to dedupe by content, so writing the same
// bytes twice is always safe and cheap.
package venti

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/archivefs/fossil/pkg/block"
)

// Errors returned by Session implementations.
var (
	ErrNotFound     = errors.New("venti: score not found")
	ErrSessionClosed = errors.New("venti: session closed")
	ErrScoreMismatch = errors.New("venti: returned data does not match requested score")
)

// Session is the archiver's and the cache's view of the external store.
// Implementations must be safe for concurrent use.
type Session interface {
	// Write stores buf under its content score and returns that score.
	// Writing the same bytes twice returns the same score without error.
	Write(ctx context.Context, kind block.Type, buf []byte) (block.Score, error)

	// Read fetches the block addressed by score into buf, which must be at
	// least len(buf) bytes; it returns the number of bytes written.
	Read(ctx context.Context, score block.Score, kind block.Type, buf []byte) (int, error)

	// Connect establishes the session; Write and Read may be called
	// without an explicit Connect, in which case they connect lazily.
	Connect(ctx context.Context) error

	// Redial reconnects the session, to host where the implementation
	// supports it: MemorySession records host, while S3Session ignores it
	// and re-checks its current endpoint. Used by fsRedial when the
	// archiver's link degrades.
	Redial(ctx context.Context, host string) error

	// Close releases the session's resources.
	Close() error
}

// Score computes the content score of buf the same way the store does,
// so callers can check a freshly written block's identity without an
// extra round trip.
func Score(buf []byte) block.Score {
	sum := sha1.Sum(buf)
	var s block.Score
	copy(s[:], sum[:])
	return s
}

// CheckScore verifies that buf hashes to the expected score, returning
// ErrScoreMismatch if not.
func CheckScore(expect block.Score, buf []byte) error {
	got := Score(buf)
	if got != expect {
		return fmt.Errorf("%w: want %s got %s", ErrScoreMismatch, expect, got)
	}
	return nil
}
