// Package fsck implements an offline (or online, read-only) consistency
// checker for an archive file system image: it walks the label
// partition directly, without needing the cache or source layers, and
// checks what labels alone can show: epochLow <= epochHigh, every label
// readable and well-formed, epochClose > epoch, active-role epoch <=
// epochHigh, and epochClose <= epochLow implying the Zombie role.
// Invariants about parent pointers or block contents are not checked.
// The reference design keeps an analogous
// checker tool; spec.md's §8 defines the invariants it enforces but
// never names the tool, so this package and the fossilctl fsck command
// built on it are a SPEC_FULL supplement (see DESIGN.md).
package fsck

import (
	"fmt"

	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/disk"
)

// Violation describes one invariant failure found during a check.
type Violation struct {
	Addr      block.Addr
	Invariant string
	Detail    string
}

func (v Violation) String() string {
	return fmt.Sprintf("block %d: %s: %s", v.Addr, v.Invariant, v.Detail)
}

// Report summarizes a full label-partition walk.
type Report struct {
	TotalBlocks int
	ByRole      map[block.Role]int
	Violations  []Violation
}

// OK reports whether the walk found zero invariant violations.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Check walks every label in d against super and returns a Report. It
// never mutates the image; a mounted file system may call this
// concurrently with mutators holding only read access to the label
// partition, since Check only issues ReadLabel calls.
func Check(d *disk.Disk, super disk.Super) Report {
	r := Report{ByRole: make(map[block.Role]int)}

	if super.EpochLow > super.EpochHigh {
		r.Violations = append(r.Violations, Violation{
			Invariant: "epochLow <= epochHigh",
			Detail:    fmt.Sprintf("epochLow=%d epochHigh=%d", super.EpochLow, super.EpochHigh),
		})
	}

	n := d.NumDataBlocks()
	r.TotalBlocks = int(n)

	for a := uint32(0); a < n; a++ {
		addr := block.Addr(a)
		label, err := d.ReadLabel(addr)
		if err != nil {
			r.Violations = append(r.Violations, Violation{
				Addr: addr, Invariant: "label readable", Detail: err.Error(),
			})
			continue
		}

		role := label.Role(super.EpochLow)
		r.ByRole[role]++

		if role == block.RoleBad {
			r.Violations = append(r.Violations, Violation{
				Addr: addr, Invariant: "label well-formed", Detail: label.State.String(),
			})
			continue
		}

		if role == block.RoleFree {
			continue
		}

		// Property 2: epochClose, when set, must exceed epoch.
		if label.EpochClose != 0 && label.EpochClose <= label.Epoch {
			r.Violations = append(r.Violations, Violation{
				Addr:      addr,
				Invariant: "epochClose > epoch",
				Detail:    fmt.Sprintf("epoch=%d epochClose=%d", label.Epoch, label.EpochClose),
			})
		}

		// Property 1: a block reachable from the active tree (Active*)
		// must have epoch <= epochHigh.
		if (role == block.RoleActive || role == block.RoleActiveRO || role == block.RoleActiveA) &&
			label.Epoch > super.EpochHigh {
			r.Violations = append(r.Violations, Violation{
				Addr:      addr,
				Invariant: "active block epoch <= epochHigh",
				Detail:    fmt.Sprintf("epoch=%d epochHigh=%d", label.Epoch, super.EpochHigh),
			})
		}

		// Property/invariant 6: nothing with epochClose <= epochLow that
		// hasn't already reached Zombie should still claim to be part of
		// a reachable tree role other than Zombie itself.
		if label.EpochClose != 0 && label.EpochClose <= super.EpochLow && role != block.RoleZombie {
			r.Violations = append(r.Violations, Violation{
				Addr:      addr,
				Invariant: "epochClose <= epochLow implies Zombie",
				Detail:    fmt.Sprintf("role=%s epochClose=%d epochLow=%d", role, label.EpochClose, super.EpochLow),
			})
		}
	}

	return r
}
