package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/internal/cli/fsopen"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the configured disk image in the foreground",
	Long: `Mount runs the same flush and snapshot timers fossild runs, blocking
until interrupted. It is meant for interactive inspection and debugging
rather than production use, where fossild is the long-running process.`,
	RunE: runMount,
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := fsopen.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "mounted %s, epoch %d. Ctrl-C to unmount.\n",
		cfg.Disk.Path, handle.Fs.EpochHigh())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer closeCancel()
	if err := handle.Close(closeCtx); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "unmounted")
	return nil
}
