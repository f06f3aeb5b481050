// Package config manages loom runtime configuration.
//
// Configuration is read from loom.toml via Viper, with defaults applied for
// every key and environment-variable overrides under the LOOM_ prefix
// (e.g. LOOM_RUNTIME_WORKERS=8).
package config

import (
	"time"
)

// Config is the root configuration for a loom process.
type Config struct {
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Log     LogConfig     `mapstructure:"log"`
	TCP     TCPConfig     `mapstructure:"tcp"`
}

// RuntimeConfig configures the worker pool and scheduler cadence.
type RuntimeConfig struct {
	// Name identifies this process in logs and telemetry replies
	Name string `mapstructure:"name"`

	// Workers is the number of worker threads (1..255); each worker id is
	// encoded into the top byte of the service ids it allocates
	Workers int `mapstructure:"workers"`

	// UpdateIntervalMS is the cadence at which the server drives every
	// worker's update tick. Deferred messages drain only on ticks, so this
	// also bounds deferred-delivery latency.
	UpdateIntervalMS int `mapstructure:"update_interval_ms"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// TCPConfig configures connection managers.
type TCPConfig struct {
	// IdleTimeoutSeconds closes connections with no activity for this long;
	// 0 disables the idle sweep
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`

	// AcceptPerSecond caps the accept rate of permanent accept loops;
	// 0 means unlimited
	AcceptPerSecond int `mapstructure:"accept_per_second"`
}

// UpdateInterval returns the tick cadence as a duration.
func (c RuntimeConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMS) * time.Millisecond
}

// IdleTimeout returns the idle timeout as a duration; zero disables.
func (c TCPConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}
