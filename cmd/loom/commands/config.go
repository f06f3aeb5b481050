package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/loom/config"
)

// ConfigCmd groups configuration management subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage loom configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		data := pterm.TableData{
			{"Key", "Value"},
			{"runtime.name", cfg.Runtime.Name},
			{"runtime.workers", fmt.Sprintf("%d", cfg.Runtime.Workers)},
			{"runtime.update_interval_ms", fmt.Sprintf("%d", cfg.Runtime.UpdateIntervalMS)},
			{"log.json", fmt.Sprintf("%t", cfg.Log.JSON)},
			{"log.level", cfg.Log.Level},
			{"tcp.idle_timeout_seconds", fmt.Sprintf("%d", cfg.TCP.IdleTimeoutSeconds)},
			{"tcp.accept_per_second", fmt.Sprintf("%d", cfg.TCP.AcceptPerSecond)},
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default loom.toml to the working directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		pterm.Success.Printfln("wrote %s", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("file", config.DefaultFileName, "Destination file")
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configInitCmd)
}
