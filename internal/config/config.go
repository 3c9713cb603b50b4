// Package config provides centralized configuration for the bridge wallet.
// Compile-time endpoints (swapper base URL, Electrum URL) and runtime
// settings (data directory, log level, timeouts) MUST be defined here. No
// hardcoded values should exist elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Network selects the Liquid network and its associated swapper/Electrum
// endpoints and key-derivation flavor.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Endpoints holds the compile-time constant URLs for a given network.
type Endpoints struct {
	SwapperRESTURL string
	SwapperWSURL   string
	ElectrumURL    string
}

// networkEndpoints is the fixed mapping described in spec.md §6: "Mainnet
// and testnet each have a fixed swapper base URL (REST + WS) and an
// Electrum URL, all compile-time constants."
var networkEndpoints = map[Network]Endpoints{
	Mainnet: {
		SwapperRESTURL: "https://api.boltz.exchange",
		SwapperWSURL:   "wss://api.boltz.exchange/ws",
		ElectrumURL:    "blockstream.info:995",
	},
	Testnet: {
		SwapperRESTURL: "https://api.testnet.boltz.exchange",
		SwapperWSURL:   "wss://api.testnet.boltz.exchange/ws",
		ElectrumURL:    "blockstream.info:465",
	},
}

// GetEndpoints returns the fixed endpoints for a network.
func GetEndpoints(n Network) (Endpoints, error) {
	ep, ok := networkEndpoints[n]
	if !ok {
		return Endpoints{}, fmt.Errorf("config: unknown network %q", n)
	}
	return ep, nil
}

// sentinelAddress maps each network to the hard-coded address used solely
// for lockup fee estimation (spec.md §4.F.7, §9). It is never a real
// destination; no funds are ever sent to it because the estimated
// transaction is built and discarded, never broadcast.
var sentinelAddress = map[Network]string{
	Mainnet: "lq1qqw6vkm9s0lh3vqz4v67kwve9a3fxdw0jrpa44tmg9al6pu2mmzyj6r3jzseytk9lgvuq4ms9ywx6sadcp3mfwhhparmmzjth",
	Testnet: "tlq1qq2xvpcvfup5j8zscjq05u2wxxjesgmxyx2ankp9508x3c5fkv2dzp5jtpq1g4s5q64cx3ghlj2p0k6f5rg0vxwzw0g6",
}

// SentinelAddress returns the fee-estimation-only sentinel address for a
// network. See spec.md Design Notes: leaks no funds, estimated tx is
// discarded.
func SentinelAddress(n Network) (string, error) {
	addr, ok := sentinelAddress[n]
	if !ok {
		return "", fmt.Errorf("config: no sentinel address for network %q", n)
	}
	return addr, nil
}

// Fixed protocol constants.
const (
	// MinClaimFeerate is the constant minimum feerate (sat/vbyte) used for
	// claim transactions — spec.md explicitly forgoes fee market estimation.
	MinClaimFeerate float32 = 0.1

	// HTTPTimeout bounds every SwapperClient/ChainClient round trip.
	HTTPTimeout = 30 * time.Second

	// SyncInterval is the Periodic Syncer's tick period (spec.md §4.H).
	SyncInterval = 30 * time.Second

	// StatusStreamMinBackoff/MaxBackoff bound StatusStream reconnects
	// (spec.md §4.E).
	StatusStreamMinBackoff = 1 * time.Second
	StatusStreamMaxBackoff = 30 * time.Second
)

// Config holds runtime settings loaded from a YAML file, following the
// teacher's node.Config / LoadConfig convention.
type Config struct {
	Network  Network        `yaml:"network"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	TimeFormat string `yaml:"time_format"`
}

// DefaultConfig returns sane defaults for a fresh data directory.
func DefaultConfig() *Config {
	return &Config{
		Network:  Mainnet,
		DataDir:  "~/.bridgewallet",
		LogLevel: "info",
		Logging: LoggingConfig{
			Level:      "info",
			TimeFormat: time.Kitchen,
		},
	}
}

// ConfigPath returns the config file path for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), "config.yaml")
}

// LoadConfig loads (or creates) the config file under dataDir.
func LoadConfig(dataDir string) (*Config, error) {
	path := ConfigPath(dataDir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir
		if writeErr := SaveConfig(dataDir, cfg); writeErr != nil {
			return nil, fmt.Errorf("config: failed to write default config: %w", writeErr)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to <dataDir>/config.yaml, creating the directory if
// needed.
func SaveConfig(dataDir string, cfg *Config) error {
	dir := ExpandPath(dataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(dir), data, 0600)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
