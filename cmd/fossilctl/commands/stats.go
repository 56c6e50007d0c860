package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/internal/cli/fsopen"
	"github.com/archivefs/fossil/internal/cli/output"
	"github.com/archivefs/fossil/pkg/block"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print epoch and cache statistics for the configured disk image",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	handle, err := fsopen.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer handle.Close(ctx)

	blockSize := uint64(handle.Fs.GetBlockSize())
	cacheStats := handle.Fs.Cache().Stats()

	pairs := [][2]string{
		{"name", handle.Fs.Name()},
		{"disk path", cfg.Disk.Path},
		{"block size", humanizeBytes(blockSize)},
		{"epoch low", fmt.Sprintf("%d", handle.Fs.EpochLow())},
		{"epoch high", fmt.Sprintf("%d", handle.Fs.EpochHigh())},
		{"cache capacity", fmt.Sprintf("%d blocks", cacheStats.Capacity)},
		{"cache resident", fmt.Sprintf("%d blocks (%s)", cacheStats.Resident, humanizeBytes(uint64(cacheStats.Resident)*blockSize))},
		{"cache dirty", fmt.Sprintf("%d blocks (%s)", cacheStats.Dirty, humanizeBytes(uint64(cacheStats.DirtyBytes)))},
		{"cache hits", fmt.Sprintf("%d", cacheStats.Hits)},
		{"cache misses", fmt.Sprintf("%d", cacheStats.Misses)},
		{"cache evictions", fmt.Sprintf("%d", cacheStats.Evictions)},
		{"archiving", fmt.Sprintf("%v", handle.Venti != nil)},
	}

	if err := output.SimpleTable(cmd.OutOrStdout(), pairs); err != nil {
		return err
	}

	blockStats, err := handle.Fs.BlockStats()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nblocks: %d total, %d free, %d used\n",
		blockStats.Total, blockStats.Free(), blockStats.Used())

	table := output.NewTableData("Role", "Count")
	for _, role := range []block.Role{
		block.RoleFree, block.RoleActive, block.RoleActiveRO, block.RoleActiveA,
		block.RoleSnap, block.RoleSnapRO, block.RoleSnapA, block.RoleZombie, block.RoleBad,
	} {
		table.AddRow(role.String(), fmt.Sprintf("%d", blockStats.ByRole[role]))
	}
	return output.PrintTable(cmd.OutOrStdout(), table)
}
