package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/pkg/disk"
)

var (
	formatBlockSize  uint16
	formatDataBlocks uint32
)

var formatCmd = &cobra.Command{
	Use:   "format <path>",
	Short: "Format a new, empty fossil disk image",
	Args:  cobra.ExactArgs(1),
	RunE:  runFormat,
}

func init() {
	formatCmd.Flags().Uint16Var(&formatBlockSize, "block-size", 8192, "block size in bytes")
	formatCmd.Flags().Uint32Var(&formatDataBlocks, "data-blocks", 65536, "number of data blocks to allocate")
}

func runFormat(cmd *cobra.Command, args []string) error {
	path := args[0]
	d, err := disk.Format(path, formatBlockSize, formatDataBlocks)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	defer d.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Formatted %s: %d blocks of %d bytes (%s)\n",
		path, formatDataBlocks, formatBlockSize, humanizeBytes(uint64(formatDataBlocks)*uint64(formatBlockSize)))
	return nil
}
