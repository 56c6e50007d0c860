package fs

import "context"

// UpperTree is the out-of-scope upper file tree's interface, as consumed
// by the core during Snapshot's publish phase (§4.4 phase 4: "Create a
// directory entry in the upper layer's name space whose Entry points at
// the frozen old root"). The core never implements path walking, name
// resolution, or metadata flushing itself; it only calls back into
// whatever concrete file-tree implementation fsOpen was handed.
//
// A File is opaque to the core: it is whatever handle the upper layer
// uses internally (a qid, an inode pointer, ...). The core treats it as
// an opaque reference it passes back unmodified.
type File any

// UpperTree is optional: an Fs opened with a nil UpperTree still performs
// every block-layer phase of Snapshot, it simply skips the publish step
// (no named directory entry is created for the frozen tree, only its
// root address/score is returned to the caller).
type UpperTree interface {
	// FileOpen resolves path to a File handle in the active tree.
	FileOpen(ctx context.Context, path string) (File, error)

	// FileWalk resolves name as a child of parent.
	FileWalk(ctx context.Context, parent File, name string) (File, error)

	// FileCreate creates name under parent with the given mode/uid and
	// returns the new File handle. Snapshot's publish phase uses this to
	// materialize the frozen tree's directory entry.
	FileCreate(ctx context.Context, parent File, name string, mode uint32, uid string) (File, error)

	// FileSnapshot points dst's Entry at src's tree as of epoch, marking
	// it for archival if archive is set.
	FileSnapshot(ctx context.Context, dst, src File, epoch uint32, archive bool) error

	// FileMetaFlush flushes a File's directory-entry metadata to its
	// parent, optionally waiting for the write to land.
	FileMetaFlush(ctx context.Context, file File, wait bool) error

	// FileDecRef releases a File handle obtained from the methods above.
	FileDecRef(ctx context.Context, file File) error
}
