package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/loom/actor"
	"github.com/teranos/loom/config"
	"github.com/teranos/loom/logger"
	"github.com/teranos/loom/sysinfo"
)

// ServeCmd runs the loom runtime until interrupted.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the loom runtime",
	Long: `Start the worker pool and the periodic update driver, install the
telemetry service, and run until SIGINT/SIGTERM. Configuration comes from
loom.toml (or LOOM_* environment overrides); --config selects an explicit
file.`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().String("config", "", "Path to an explicit config file")
	ServeCmd.Flags().Bool("no-banner", false, "Suppress the startup banner")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	noBanner, _ := cmd.Flags().GetBool("no-banner")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return err
	}
	log := logger.Named("loom")

	srv, err := actor.NewServer(cfg.Runtime.Workers, cfg.Runtime.UpdateInterval(), log)
	if err != nil {
		return err
	}

	telemetryID, err := srv.NewService("sysinfo", sysinfo.NewService(), 0)
	if err != nil {
		return err
	}
	srv.Register("sysinfo", telemetryID)

	if !noBanner {
		printStartupBanner(cfg)
	}

	srv.Run()
	log.Infow("runtime started",
		"workers", cfg.Runtime.Workers,
		"update_interval_ms", cfg.Runtime.UpdateIntervalMS)

	// Hot-reload runtime-adjustable knobs while the explicit config file is
	// in play; the default search-path setup reloads on restart instead
	var stopWatch func()
	if configPath != "" {
		stopWatch, err = config.Watch(configPath, log, func(next *config.Config) {
			if err := logger.SetLevel(next.Log.Level); err != nil {
				log.Warnw("failed to apply log level", logger.FieldError, err)
			}
		})
		if err != nil {
			log.Warnw("config watch unavailable", logger.FieldError, err)
			stopWatch = nil
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infow("shutting down", "signal", sig.String())

	if stopWatch != nil {
		stopWatch()
	}
	srv.Stop()
	srv.Wait()
	log.Infow("runtime stopped")
	return nil
}
