// Package config handles loading and managing Posta configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the Posta engine configuration.
type Config struct {
	Data     DataConfig        `toml:"data"`
	Remote   RemoteConfig      `toml:"remote"`
	Poll     PollConfig        `toml:"poll"`
	Mutation MutationConfig    `toml:"mutation"`
	Server   ServerConfig      `toml:"server"`
	Accounts []AccountSchedule `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir          string `toml:"data_dir"`
	CacheMaxAgeHours int    `toml:"cache_max_age_hours"` // Stale cache sweep threshold (default: 24)
}

// RemoteConfig holds remote service configuration.
type RemoteConfig struct {
	BaseURL      string `toml:"base_url"`
	RateLimitQPS int    `toml:"rate_limit_qps"`
	TokenFile    string `toml:"token_file"` // OAuth token JSON (obtained out of band)
}

// PollConfig holds adaptive polling configuration.
type PollConfig struct {
	BaseIntervalSec int `toml:"base_interval_sec"` // Interval after a run with changes (default: 30)
	MaxIntervalSec  int `toml:"max_interval_sec"`  // Backoff cap (default: 300)
}

// MutationConfig holds optimistic mutation configuration.
type MutationConfig struct {
	UndoWindowSec     int  `toml:"undo_window_sec"`     // Undo availability (default: 10)
	GuardWindowSec    int  `toml:"guard_window_sec"`    // Stale-refresh guard (default: 3)
	RollbackOnFailure bool `toml:"rollback_on_failure"` // Roll back optimistic state on remote failure
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	BindAddr    string   `toml:"bind_addr"`    // Listen address (default: 127.0.0.1)
	APIPort     int      `toml:"api_port"`     // HTTP server port (default: 8484)
	APIKey      string   `toml:"api_key"`      // API authentication key
	CORSOrigins []string `toml:"cors_origins"` // Allowed origins; empty disables CORS
}

// ValidateSecure rejects configurations that would expose the API beyond
// loopback without authentication.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey != "" {
		return nil
	}
	switch s.BindAddr {
	case "", "127.0.0.1", "localhost", "::1":
		return nil
	}
	return fmt.Errorf("refusing to bind API to %s without [server] api_key", s.BindAddr)
}

// AccountSchedule defines the full-refresh schedule for a single account.
type AccountSchedule struct {
	AccountID string `toml:"account_id"`
	Schedule  string `toml:"schedule"` // Cron expression (e.g., "0 */6 * * *")
	Enabled   bool   `toml:"enabled"`
}

// DefaultHome returns the default Posta home directory.
// Respects the POSTA_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("POSTA_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".posta"
	}
	return filepath.Join(home, ".posta")
}

// Default returns a configuration with every default applied and no file
// read.
func Default() *Config {
	homeDir := DefaultHome()
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir:          homeDir,
			CacheMaxAgeHours: 24,
		},
		Remote: RemoteConfig{
			RateLimitQPS: 5,
		},
		Poll: PollConfig{
			BaseIntervalSec: 30,
			MaxIntervalSec:  300,
		},
		Mutation: MutationConfig{
			UndoWindowSec:  10,
			GuardWindowSec: 3,
		},
		Server: ServerConfig{
			APIPort: 8484,
		},
		Accounts: []AccountSchedule{},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.posta/config.toml).
// The config file is optional; defaults apply when it is absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.HomeDir, "config.toml")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Remote.TokenFile = expandPath(cfg.Remote.TokenFile)

	return cfg, nil
}

// EnsureHomeDir creates the data directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.Data.DataDir, 0755)
}

// DatabasePath returns the path to the SQLite cache database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "posta.db")
}

// BaseInterval returns the poll base interval as a duration.
func (c *Config) BaseInterval() time.Duration {
	return time.Duration(c.Poll.BaseIntervalSec) * time.Second
}

// MaxInterval returns the poll backoff cap as a duration.
func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.Poll.MaxIntervalSec) * time.Second
}

// UndoWindow returns the undo window as a duration.
func (c *Config) UndoWindow() time.Duration {
	return time.Duration(c.Mutation.UndoWindowSec) * time.Second
}

// GuardWindow returns the stale-refresh guard window as a duration.
func (c *Config) GuardWindow() time.Duration {
	return time.Duration(c.Mutation.GuardWindowSec) * time.Second
}

// ScheduledAccounts returns accounts with full-refresh scheduling enabled.
func (c *Config) ScheduledAccounts() []AccountSchedule {
	var scheduled []AccountSchedule
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
