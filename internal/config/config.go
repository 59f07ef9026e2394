// Package config provides configuration management for mwcbridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/mwcbridge/internal/fileutil"
	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// Chain names.
const (
	ChainMainnet = "mainnet"
	ChainFloonet = "floonet"
)

// Config represents the application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"home"`
	Chain    string         `yaml:"chain"`
	Node     NodeConfig     `yaml:"node"`
	Relay    RelayConfig    `yaml:"relay"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Listener ListenerConfig `yaml:"listener"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NodeConfig defines how the chain node foreign API is reached.
type NodeConfig struct {
	URL               string  `yaml:"url"`
	APISecret         string  `yaml:"api_secret,omitempty"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	RetryAttempts     int     `yaml:"retry_attempts"`
}

// Timeout returns the per-request node timeout.
func (n NodeConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// RelayConfig identifies the MQS relay and which address key listens on it.
type RelayConfig struct {
	URL      string `yaml:"url"`
	Domain   string `yaml:"domain"`
	KeyIndex uint32 `yaml:"key_index"`
}

// WalletConfig holds spend policy and wallet file settings.
type WalletConfig struct {
	MinConfirmations  uint64 `yaml:"min_confirmations"`
	SelectionStrategy string `yaml:"selection_strategy"`
	TieBreak          string `yaml:"tie_break"`
	BaseFee           uint64 `yaml:"base_fee"`
	CoinbaseMaturity  uint64 `yaml:"coinbase_maturity"`
	ScanBatchSize     uint64 `yaml:"scan_batch_size"`
	ScryptWorkFactor  int    `yaml:"scrypt_work_factor"`
}

// ListenerConfig holds the optional HTTP surfaces started with the listener.
type ListenerConfig struct {
	ForeignAddr string `yaml:"foreign_addr,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads configuration from the specified file on top of Defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, bridgeerr.Kind(bridgeerr.ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	if err := fileutil.EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fileutil.WriteAtomic(path, data, fileutil.PrivateFileMode)
}

// Path returns the config file path inside home.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Validate checks the values a wallet session depends on.
func (c *Config) Validate() error {
	var problems []string

	switch c.Chain {
	case ChainMainnet, ChainFloonet:
	default:
		problems = append(problems, fmt.Sprintf("chain must be %q or %q", ChainMainnet, ChainFloonet))
	}
	switch c.Wallet.SelectionStrategy {
	case "all", "smallest":
	default:
		problems = append(problems, `wallet.selection_strategy must be "all" or "smallest"`)
	}
	switch c.Wallet.TieBreak {
	case "age", "index":
	default:
		problems = append(problems, `wallet.tie_break must be "age" or "index"`)
	}
	if c.Wallet.BaseFee == 0 {
		problems = append(problems, "wallet.base_fee must be positive")
	}
	if c.Wallet.ScanBatchSize == 0 {
		problems = append(problems, "wallet.scan_batch_size must be positive")
	}
	if c.Node.TimeoutSeconds <= 0 {
		problems = append(problems, "node.timeout_seconds must be positive")
	}

	if len(problems) > 0 {
		return bridgeerr.WithDetails(bridgeerr.ErrConfigInvalid, map[string]string{
			"problems": strings.Join(problems, "; "),
		})
	}
	return nil
}

// HomeDir returns Home with a leading "~/" expanded.
func (c *Config) HomeDir() string {
	return ExpandHome(c.Home)
}

// WalletsDir is where wallet files and per-wallet state live.
func (c *Config) WalletsDir() string {
	return filepath.Join(c.HomeDir(), "wallets")
}

// BackupsDir is where wallet backups are written.
func (c *Config) BackupsDir() string {
	return filepath.Join(c.HomeDir(), "backups")
}

// ExpandHome expands a leading "~/" to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// DefaultHome returns the default mwcbridge home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mwcbridge"
	}
	return filepath.Join(home, ".mwcbridge")
}
