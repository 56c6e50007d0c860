package fs

import (
	"errors"
	"fmt"

	"github.com/archivefs/fossil/pkg/block"
)

// Sentinel errors matching the error kinds a caller is expected to check
// with errors.Is. They mirror the reference design's error kinds one for
// one: BadMode, BadRoot, BadLabel, ReadError, WriteError, VentiError.
var (
	ErrBadMode    = errors.New("fs: bad open mode")
	ErrBadRoot    = errors.New("fs: root is inaccessible")
	ErrBadLabel   = errors.New("fs: bad label")
	ErrReadError  = errors.New("fs: local read error")
	ErrWriteError = errors.New("fs: local write error")
	ErrVentiError = errors.New("fs: external store error")
	ErrClosed     = errors.New("fs: closed")
	ErrNoVenti    = errors.New("fs: no external store configured")
	ErrArchiving  = errors.New("fs: an archive is already in progress")
)

// FatalError reports an invariant violation (§3 of the design). Unlike the
// sentinel errors above, a FatalError means the current operation must be
// aborted outright: the on-disk state can no longer be trusted to satisfy
// the data model's invariants. The file system logs it at Error level and
// returns it to the caller; it never panics the process.
type FatalError struct {
	Invariant string // human description of the invariant that was violated
	Addr      block.Addr
	Part      block.Part
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fs: invariant violation (%s) at %s:%d", e.Invariant, e.Part, e.Addr)
}

// NewFatalError constructs a FatalError for the given invariant and block.
func NewFatalError(invariant string, part block.Part, addr block.Addr) *FatalError {
	return &FatalError{Invariant: invariant, Part: part, Addr: addr}
}
