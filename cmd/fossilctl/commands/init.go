package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/internal/cli/prompt"
	"github.com/archivefs/fossil/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file",
	Long: `Write a default fossilctl/fossild configuration file to the default
location (or --config), prompting for the disk image path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if config.DefaultConfigExists() && path == config.GetDefaultConfigPath() && !initForce {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Overwrite existing config at %s?", path), initForce)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}

	diskPath, err := prompt.Input("Disk image path", "./fossil.img")
	if err != nil {
		return err
	}

	cfg := config.GetDefaultConfig()
	cfg.Disk.Path = diskPath

	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", path)
	return nil
}
