package fs

import (
	"fmt"

	"github.com/archivefs/fossil/pkg/block"
)

// BlockStats summarizes the label partition's occupancy at the moment it
// was computed. Unlike the superblock's epoch and qid watermarks, these
// counts are never persisted: they are cheap to recompute by scanning the
// label array, and persisting them would only create another copy that
// could drift from the labels themselves.
type BlockStats struct {
	Total  int
	ByRole map[block.Role]int
}

// Free returns the number of blocks available for allocation.
func (s BlockStats) Free() int {
	return s.ByRole[block.RoleFree]
}

// Used returns the number of blocks not available for allocation.
func (s BlockStats) Used() int {
	return s.Total - s.Free()
}

// BlockStats scans the label partition and tallies blocks by role, as of
// the file system's current epoch watermarks. It takes no lock beyond what
// the disk's label reads need, so it reflects whatever state the labels
// are in at the instant of each read rather than a single consistent
// snapshot; that is adequate for reporting, and fsck.Check is the tool
// that cares about point-in-time consistency.
func (f *Fs) BlockStats() (BlockStats, error) {
	epochLow := f.EpochLow()
	n := f.disk.NumDataBlocks()

	stats := BlockStats{
		Total:  int(n),
		ByRole: make(map[block.Role]int, 9),
	}

	for addr := block.Addr(0); addr < block.Addr(n); addr++ {
		label, err := f.disk.ReadLabel(addr)
		if err != nil {
			return BlockStats{}, fmt.Errorf("fs: block stats: read label %d: %w", addr, err)
		}
		stats.ByRole[label.Role(epochLow)]++
	}

	return stats, nil
}
