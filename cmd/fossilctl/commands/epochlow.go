package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/internal/cli/fsopen"
	"github.com/archivefs/fossil/internal/cli/prompt"
)

var epochLowYes bool

var epochLowCmd = &cobra.Command{
	Use:   "epoch-low <epoch>",
	Short: "Advance the reclamation epoch watermark and free eligible blocks",
	Long: `epoch-low raises epochLow to the given epoch, then reclaims every
Zombie block below it back to Free. This is destructive: any snapshot
whose epoch falls below the new watermark becomes unreachable, so the
command asks for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runEpochLow,
}

func init() {
	epochLowCmd.Flags().BoolVarP(&epochLowYes, "yes", "y", false, "skip the confirmation prompt")
}

func runEpochLow(cmd *cobra.Command, args []string) error {
	newLow, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("epoch-low: invalid epoch %q: %w", args[0], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ok, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Advance epochLow to %d on %s? Snapshots below it become unreachable.", newLow, cfg.Disk.Path),
		epochLowYes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "aborted")
		return nil
	}

	ctx := context.Background()
	handle, err := fsopen.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer handle.Close(ctx)

	freed, err := handle.Fs.EpochLowSet(ctx, uint32(newLow))
	if err != nil {
		return fmt.Errorf("epoch-low: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "epochLow advanced to %d, %d blocks reclaimed\n", newLow, freed)
	return nil
}
