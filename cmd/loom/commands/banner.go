package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/teranos/loom/config"
	"github.com/teranos/loom/version"
)

// printStartupBanner prints the user-friendly startup panel.
func printStartupBanner(cfg *config.Config) {
	info := version.Get()

	title := pterm.LightCyan(" loom ") + pterm.Gray(info.Version)
	body := fmt.Sprintf(
		"%s %s\n%s %d\n%s %dms\n%s %s",
		pterm.Yellow("commit:"), info.Short(),
		pterm.Yellow("workers:"), cfg.Runtime.Workers,
		pterm.Yellow("tick:"), cfg.Runtime.UpdateIntervalMS,
		pterm.Yellow("log:"), cfg.Log.Level,
	)

	pterm.DefaultBox.WithTitle(title).Println(body)
	pterm.Info.Println("Press Ctrl+C to stop")
}
