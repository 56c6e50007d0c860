// Package commands implements the fossilctl administrative CLI: mounting
// for interactive use, triggering snapshots, checking consistency,
// advancing the reclamation watermark, and inspecting cache/epoch stats.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/archivefs/fossil/cmd/fossilctl/commands/configcmd"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "fossilctl",
	Short: "Administrative CLI for the fossil epoch-based archive file system",
	Long: `fossilctl mounts, snapshots, checks, and inspects a fossil disk image.

It operates directly on the image named in the configuration file (or
--config); it does not talk to a running fossild over any network
protocol, the same way the block manager itself has no client/server
split between fsck and a live mount.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/fossil/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(epochLowCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

func configFile() string { return cfgFile }
