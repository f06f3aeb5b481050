package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/loom/cmd/loom/commands"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "loom - in-process actor runtime with a protocol-aware TCP subsystem",
	Long: `loom hosts many independent services (actors) that communicate through
asynchronous messages, scheduled across a fixed pool of worker threads.
Its TCP subsystem owns network connections, frames inbound bytes per the
selected wire protocol, and delivers framed payloads to owning services.

Available commands:
  serve   - Run the loom runtime
  config  - Manage configuration (show / init)
  version - Show build information

Examples:
  loom config init         # Write a default loom.toml
  loom serve               # Start the runtime
  loom version --json      # Build info for tooling`,
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
