// Package config loads the netidd daemon configuration from YAML.
// The network-id subsystem's tuning constants are compile-time; only
// the feature flags and daemon surfaces are configurable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	NetID NetIDConfig `yaml:"netid"`
	Diag  DiagConfig  `yaml:"diag"`
	Sim   SimConfig   `yaml:"sim"`
}

// NetIDConfig carries the two feature flags gating the subsystem.
// Both default to true: off until explicitly enabled.
type NetIDConfig struct {
	DisableSecretPings  bool `yaml:"disable_secret_pings"`
	DisableSecretPinger bool `yaml:"disable_secret_pinger"`
}

// DiagConfig configures the diagnostics HTTP API.
type DiagConfig struct {
	Listen string `yaml:"listen"`
}

// SimConfig sizes the demo mesh.
type SimConfig struct {
	Peers int   `yaml:"peers"`
	Seed  int64 `yaml:"seed"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		NetID: NetIDConfig{
			DisableSecretPings:  true,
			DisableSecretPinger: true,
		},
		Diag: DiagConfig{Listen: "127.0.0.1:9390"},
		Sim:  SimConfig{Peers: 8, Seed: 1},
	}
}

// Load reads a YAML config from path. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Sim.Peers < 1 {
		return nil, fmt.Errorf("sim.peers must be positive, got %d", cfg.Sim.Peers)
	}
	if cfg.Diag.Listen == "" {
		cfg.Diag.Listen = Default().Diag.Listen
	}
	return cfg, nil
}
