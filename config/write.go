package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/teranos/loom/errors"
)

// fileLayout mirrors Config with toml tags for writing. Kept separate so the
// mapstructure tags used by Viper stay the single source of truth for reads.
type fileLayout struct {
	Runtime struct {
		Name             string `toml:"name"`
		Workers          int    `toml:"workers"`
		UpdateIntervalMS int    `toml:"update_interval_ms"`
	} `toml:"runtime"`
	Log struct {
		JSON  bool   `toml:"json"`
		Level string `toml:"level"`
	} `toml:"log"`
	TCP struct {
		IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
		AcceptPerSecond    int `toml:"accept_per_second"`
	} `toml:"tcp"`
}

// WriteDefault writes a loom.toml populated with the default values to path.
// Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path)
	}

	v := viperWithDefaults()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return errors.Wrap(err, "failed to build default config")
	}

	var layout fileLayout
	layout.Runtime.Name = cfg.Runtime.Name
	layout.Runtime.Workers = cfg.Runtime.Workers
	layout.Runtime.UpdateIntervalMS = cfg.Runtime.UpdateIntervalMS
	layout.Log.JSON = cfg.Log.JSON
	layout.Log.Level = cfg.Log.Level
	layout.TCP.IdleTimeoutSeconds = cfg.TCP.IdleTimeoutSeconds
	layout.TCP.AcceptPerSecond = cfg.TCP.AcceptPerSecond

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(layout); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
