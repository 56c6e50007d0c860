// Command fossilctl is the administrative CLI for a fossil disk image:
// init, format, mount, snapshot, fsck, epoch-low, stats, and config
// schema.
package main

import (
	"fmt"
	"os"

	"github.com/archivefs/fossil/cmd/fossilctl/commands"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.Version = version
	commands.Commit = commit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
