package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/internal/cli/output"
	"github.com/archivefs/fossil/pkg/block"
	"github.com/archivefs/fossil/pkg/disk"
	"github.com/archivefs/fossil/pkg/fsck"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Check the consistency of the configured disk image",
	Long: `fsck opens the disk image directly (without mounting it through the
cache or source layers) and walks every label against the invariants the
epoch protocol depends on: epochLow <= epochHigh, epochClose > epoch
wherever set, and no block left claiming a live role once its epochClose
has fallen at or below epochLow.

Run it offline against an unmounted image for a full check, or against a
mounted one for a read-only sanity pass; fsck never writes to the image.`,
	RunE: runFsck,
}

func runFsck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := disk.Open(cfg.Disk.Path)
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	defer d.Close()

	super, err := d.ReadSuper()
	if err != nil {
		return fmt.Errorf("fsck: read superblock: %w", err)
	}

	report := fsck.Check(d, super)

	table := output.NewTableData("Role", "Count")
	for _, role := range []block.Role{
		block.RoleFree, block.RoleActive, block.RoleActiveRO, block.RoleActiveA,
		block.RoleSnap, block.RoleSnapRO, block.RoleSnapA, block.RoleZombie, block.RoleBad,
	} {
		table.AddRow(role.String(), fmt.Sprintf("%d", report.ByRole[role]))
	}
	if err := output.PrintTable(cmd.OutOrStdout(), table); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d blocks total, %d violations\n", report.TotalBlocks, len(report.Violations))
	for _, v := range report.Violations {
		fmt.Fprintln(cmd.OutOrStdout(), "  "+v.String())
	}

	if !report.OK() {
		return fmt.Errorf("fsck: %d invariant violations found", len(report.Violations))
	}
	return nil
}
