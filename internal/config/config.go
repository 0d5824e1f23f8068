// Package config provides the YAML configuration of the swap daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/klingon-swap/internal/commitment"
	"github.com/klingon-exchange/klingon-swap/internal/ledger"
	"github.com/klingon-exchange/klingon-swap/internal/swap"
	"github.com/klingon-exchange/klingon-swap/internal/timelock"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all configuration for the swap daemon.
type Config struct {
	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// RPC server
	RPC RPCConfig `yaml:"rpc"`

	// Swap lifecycle policy
	Swap SwapConfig `yaml:"swap"`

	// Access lists consulted for every principal.
	Access AccessConfig `yaml:"access"`

	// Ledgers hosted by the daemon.
	Ledgers []LedgerConfig `yaml:"ledgers"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// Backend is sqlite or memory. Memory state is lost on exit.
	Backend string `yaml:"backend"`

	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// RPCConfig holds JSON-RPC server settings.
type RPCConfig struct {
	// Listen is the host:port of the HTTP server.
	Listen string `yaml:"listen"`

	// EnableWS exposes the audit event stream at /ws.
	EnableWS bool `yaml:"enable_ws"`

	// EnableMetrics exposes prometheus metrics at /metrics.
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SwapConfig holds the coordinator policy.
type SwapConfig struct {
	// CustodyAccount holds escrowed legs on every ledger.
	CustodyAccount string `yaml:"custody_account"`

	// IDScheme is legacy, counter or random.
	IDScheme string `yaml:"id_scheme"`

	// DefaultScheme is the commitment scheme used when a request names none.
	DefaultScheme string `yaml:"default_scheme"`

	MinTimeout time.Duration `yaml:"min_timeout"`
	MaxTimeout time.Duration `yaml:"max_timeout"` // 0 = unbounded

	// StrictCompleteWindow rejects complete after the deadline.
	StrictCompleteWindow bool `yaml:"strict_complete_window"`

	// MonitorInterval is how often expired swaps are scanned.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// AutoRefund refunds expired swaps whose operator is OperatorAccount.
	AutoRefund      bool   `yaml:"auto_refund"`
	OperatorAccount string `yaml:"operator_account"`

	// AuditQueue is the size of the asynchronous audit queue.
	AuditQueue int `yaml:"audit_queue"`
}

// AccessConfig holds the compliance lists.
type AccessConfig struct {
	Allow []string `yaml:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty"`
}

// LedgerConfig describes one hosted ledger.
type LedgerConfig struct {
	Name      string       `yaml:"name"`
	Kind      string       `yaml:"kind"` // fungible or non_fungible
	Decimals  uint8        `yaml:"decimals"`
	AllowMint bool         `yaml:"allow_mint"`
	Seed      []SeedConfig `yaml:"seed,omitempty"`
}

// SeedConfig is an initial balance minted on first start.
type SeedConfig struct {
	Account  string `yaml:"account"`
	Asset    string `yaml:"asset"`
	Quantity uint64 `yaml:"quantity"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: "~/.klingon-swap",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		RPC: RPCConfig{
			Listen:        "127.0.0.1:8645",
			EnableWS:      true,
			EnableMetrics: true,
		},
		Swap: SwapConfig{
			CustodyAccount:  "custody",
			IDScheme:        string(swap.DefaultIDScheme),
			DefaultScheme:   string(commitment.DefaultScheme),
			MinTimeout:      time.Minute,
			MaxTimeout:      7 * 24 * time.Hour,
			MonitorInterval: 30 * time.Second,
			AuditQueue:      256,
		},
		Ledgers: []LedgerConfig{
			{Name: "coin", Kind: string(ledger.KindFungible), Decimals: 8},
			{Name: "collectible", Kind: string(ledger.KindNonFungible)},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}

	s := c.Swap
	if s.CustodyAccount == "" {
		return fmt.Errorf("swap.custody_account is required")
	}
	if _, err := swap.ParseIDScheme(s.IDScheme); err != nil {
		return fmt.Errorf("swap.id_scheme: %w", err)
	}
	if _, err := commitment.ParseScheme(s.DefaultScheme); err != nil {
		return fmt.Errorf("swap.default_scheme: %w", err)
	}
	if s.MinTimeout < 0 || s.MaxTimeout < 0 {
		return fmt.Errorf("swap timeouts must not be negative")
	}
	if s.MaxTimeout > 0 && s.MinTimeout > s.MaxTimeout {
		return fmt.Errorf("swap.min_timeout %s exceeds swap.max_timeout %s", s.MinTimeout, s.MaxTimeout)
	}
	if s.MonitorInterval <= 0 {
		return fmt.Errorf("swap.monitor_interval must be positive")
	}
	if s.AutoRefund && s.OperatorAccount == "" {
		return fmt.Errorf("swap.auto_refund requires swap.operator_account")
	}
	if s.OperatorAccount != "" && s.OperatorAccount == s.CustodyAccount {
		return fmt.Errorf("swap.operator_account must differ from swap.custody_account")
	}

	if len(c.Ledgers) == 0 {
		return fmt.Errorf("at least one ledger is required")
	}
	seen := make(map[string]bool, len(c.Ledgers))
	for i, l := range c.Ledgers {
		if l.Name == "" {
			return fmt.Errorf("ledgers[%d]: name is required", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("ledgers[%d]: duplicate ledger %q", i, l.Name)
		}
		seen[l.Name] = true

		kind, err := ledger.ParseKind(l.Kind)
		if err != nil {
			return fmt.Errorf("ledgers[%d]: %w", i, err)
		}
		for j, seed := range l.Seed {
			if seed.Account == "" || seed.Asset == "" || seed.Quantity == 0 {
				return fmt.Errorf("ledgers[%d].seed[%d]: account, asset and quantity are required", i, j)
			}
			if kind == ledger.KindNonFungible && seed.Quantity != 1 {
				return fmt.Errorf("ledgers[%d].seed[%d]: non-fungible quantity must be 1", i, j)
			}
		}
	}
	return nil
}

// TimeoutPolicy returns the configured timeout bounds.
func (c *Config) TimeoutPolicy() timelock.Policy {
	return timelock.Policy{MinTimeout: c.Swap.MinTimeout, MaxTimeout: c.Swap.MaxTimeout}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Klingon Swap Coordinator Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
