// Package config manages alarmvault configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

// Store backends
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StoreConfig selects and configures the durable key-value backend
type StoreConfig struct {
	Backend       string `json:"backend"`
	SQLitePath    string `json:"sqlite_path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
}

// MonitorConfig configures the integrity monitor
type MonitorConfig struct {
	IntervalSeconds               int    `json:"interval_seconds"`
	DeepVerifySchedule            string `json:"deep_verify_schedule,omitempty"`
	MaxTrackedAlarms              int    `json:"max_tracked_alarms,omitempty"`
	LegitimateUpdateWindowSeconds int    `json:"legitimate_update_window_seconds,omitempty"`
}

// APIConfig configures the HTTP status surface
type APIConfig struct {
	Listen        string  `json:"listen"`
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	RateBurst     int     `json:"rate_burst,omitempty"`
}

// KeysConfig holds paths to local key material
type KeysConfig struct {
	SigningKeyPath     string `json:"signing_key_path,omitempty"`
	EncryptionSaltPath string `json:"encryption_salt_path,omitempty"`
}

// Config represents the alarmvault configuration
type Config struct {
	// Identity
	DeviceName string `json:"device_name"`
	OwnerID    string `json:"owner_id,omitempty"`

	// Data directory for key material, tamper log and sqlite file
	DataDir string `json:"data_dir,omitempty"`

	Store   StoreConfig   `json:"store"`
	Monitor MonitorConfig `json:"monitor"`
	API     APIConfig     `json:"api"`
	Keys    KeysConfig    `json:"keys"`

	// Paths (not serialized)
	ConfigDir string `json:"-"`
}

// Defaults applied on load and init
const (
	DefaultMonitorIntervalSeconds = 30
	DefaultMaxTrackedAlarms       = 512
	DefaultUpdateWindowSeconds    = 600
	DefaultListenAddr             = "127.0.0.1:8787"
	DefaultRatePerSecond          = 10.0
	DefaultRateBurst              = 20
)

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".alarmvault")
}

// Default returns a configuration with defaults filled in for the
// given config directory.
func Default(configDir string) *Config {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	cfg := &Config{
		DeviceName: "alarmvault",
		DataDir:    filepath.Join(configDir, "data"),
		Store: StoreConfig{
			Backend:    BackendSQLite,
			SQLitePath: filepath.Join(configDir, "data", "alarmvault.db"),
			Namespace:  "av",
		},
		Monitor: MonitorConfig{
			IntervalSeconds:               DefaultMonitorIntervalSeconds,
			MaxTrackedAlarms:              DefaultMaxTrackedAlarms,
			LegitimateUpdateWindowSeconds: DefaultUpdateWindowSeconds,
		},
		API: APIConfig{
			Listen:        DefaultListenAddr,
			RatePerSecond: DefaultRatePerSecond,
			RateBurst:     DefaultRateBurst,
		},
		Keys: KeysConfig{
			SigningKeyPath:     filepath.Join(configDir, "signing.key"),
			EncryptionSaltPath: filepath.Join(configDir, "device.secret"),
		},
		ConfigDir: configDir,
	}
	return cfg
}

// Load loads configuration from the config directory
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	configPath := filepath.Join(configDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrNotInitialized
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ConfigDir = configDir
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Exists checks if a config exists
func Exists(configDir string) bool {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	configPath := filepath.Join(configDir, "config.json")
	_, err := os.Stat(configPath)
	return err == nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir()
	}

	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.ConfigDir, "config.json")
	return os.WriteFile(configPath, data, 0600)
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.ConfigDir, "data")
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Store.Backend == BackendSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "alarmvault.db")
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = "av"
	}
	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = DefaultMonitorIntervalSeconds
	}
	if c.Monitor.MaxTrackedAlarms <= 0 {
		c.Monitor.MaxTrackedAlarms = DefaultMaxTrackedAlarms
	}
	if c.Monitor.LegitimateUpdateWindowSeconds <= 0 {
		c.Monitor.LegitimateUpdateWindowSeconds = DefaultUpdateWindowSeconds
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultListenAddr
	}
	if c.API.RatePerSecond <= 0 {
		c.API.RatePerSecond = DefaultRatePerSecond
	}
	if c.API.RateBurst <= 0 {
		c.API.RateBurst = DefaultRateBurst
	}
	if c.Keys.SigningKeyPath == "" {
		c.Keys.SigningKeyPath = filepath.Join(c.ConfigDir, "signing.key")
	}
	if c.Keys.EncryptionSaltPath == "" {
		c.Keys.EncryptionSaltPath = filepath.Join(c.ConfigDir, "device.secret")
	}
}

// Validate checks the configuration for obvious misconfiguration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store backend %q requires redis_addr", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// MonitorInterval returns the periodic check interval as a duration
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// UpdateWindow returns the legitimate-update grace window as a duration
func (c *Config) UpdateWindow() time.Duration {
	return time.Duration(c.Monitor.LegitimateUpdateWindowSeconds) * time.Second
}

// TamperLogPath returns the location of the persistent tamper log
func (c *Config) TamperLogPath() string {
	return filepath.Join(c.DataDir, "tamperlog.json")
}

// EnsureDataDir creates the data directory with restrictive permissions
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}
