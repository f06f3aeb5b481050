package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Runtime defaults
	v.SetDefault("runtime.name", "loom")
	v.SetDefault("runtime.workers", 4)
	v.SetDefault("runtime.update_interval_ms", 10) // deferred messages drain on this cadence

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	// TCP defaults
	v.SetDefault("tcp.idle_timeout_seconds", 0) // 0 = no idle sweep
	v.SetDefault("tcp.accept_per_second", 0)    // 0 = unlimited
}
