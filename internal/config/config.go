// Package config loads shopsync configuration from a YAML file, SHOPSYNC_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults < file < environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shopkeep/shopsync/internal/schema"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "SHOPSYNC"

// DefaultFileName is the config file looked up in the data directory.
const DefaultFileName = "shopsync.yaml"

// Storage kinds for local persistence.
const (
	StorageSQLite = "sqlite"
	StorageBadger = "badger"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Remote kinds for the collection gateway.
const (
	RemoteREST     = "rest"
	RemoteLibSQL   = "libsql"
	RemoteSQLite   = "sqlite"
	RemotePostgres = "postgres"
	RemoteMemory   = "memory"
)

// Config holds all shopsync settings.
type Config struct {
	DataDir             string   `mapstructure:"data_dir"`
	Storage             string   `mapstructure:"storage"`
	Collections         []string `mapstructure:"collections"`
	SettingsCollections []string `mapstructure:"settings_collections"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// RemoteConfig selects and configures the remote gateway.
type RemoteConfig struct {
	Kind    string        `mapstructure:"kind"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the coordinator and the store flusher.
type SyncConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	Interval time.Duration `mapstructure:"interval"` // 0 disables periodic refresh
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig selects the log destination. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DashboardConfig configures the dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// RedisConfig configures the redis storage kind.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DefaultDataDir returns ~/.shopsync, or ./.shopsync when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopsync"
	}
	return filepath.Join(home, ".shopsync")
}

func setDefaults(v *viper.Viper) {
	names := make([]string, 0, 5)
	var settings []string
	for _, c := range schema.DefaultCollections() {
		names = append(names, c.Name)
		if c.Settings {
			settings = append(settings, c.Name)
		}
	}

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("storage", StorageSQLite)
	v.SetDefault("collections", names)
	v.SetDefault("settings_collections", settings)

	v.SetDefault("remote.kind", RemoteREST)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("sync.cooldown", 3*time.Second)
	v.SetDefault("sync.interval", time.Duration(0))
	v.SetDefault("sync.debounce", 500*time.Millisecond)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("dashboard.port", 8090)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Load reads configuration. configPath may be empty, in which case
// shopsync.yaml is looked up in the data directory and the working
// directory; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env values for list keys arrive as one comma-separated string
	cfg.Collections = splitList(cfg.Collections)
	cfg.SettingsCollections = splitList(cfg.SettingsCollections)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Storage {
	case StorageSQLite, StorageBadger, StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("invalid storage %q (must be sqlite, badger, redis or memory)", c.Storage)
	}

	switch c.Remote.Kind {
	case RemoteREST, RemoteLibSQL, RemotePostgres:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for remote kind %q", c.Remote.Kind)
		}
	case RemoteSQLite, RemoteMemory:
	default:
		return fmt.Errorf("invalid remote.kind %q (must be rest, libsql, sqlite, postgres or memory)", c.Remote.Kind)
	}

	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Sync.Cooldown < 0 || c.Sync.Interval < 0 || c.Sync.Debounce < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard.port %d", c.Dashboard.Port)
	}

	if _, err := c.CollectionDefs(); err != nil {
		return err
	}
	return nil
}

// CollectionDefs builds the collection definitions from the configured names.
func (c *Config) CollectionDefs() ([]schema.Collection, error) {
	if len(c.Collections) == 0 {
		return nil, fmt.Errorf("at least one collection is required")
	}
	for _, name := range c.SettingsCollections {
		found := false
		for _, n := range c.Collections {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("settings collection %q is not in collections", name)
		}
	}
	return schema.BuildCollections(c.Collections, c.SettingsCollections)
}

// SessionPath returns the location of the stored session.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// LocalDBPath returns the local SQLite persistence file.
func (c *Config) LocalDBPath() string {
	return filepath.Join(c.DataDir, "local.db")
}

// BadgerDir returns the badger persistence directory.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "badger")
}

// RemoteSQLitePath returns the SQLite file used by the sqlite remote kind
// when remote.url is empty.
func (c *Config) RemoteSQLitePath() string {
	if c.Remote.URL != "" {
		return c.Remote.URL
	}
	return filepath.Join(c.DataDir, "remote.db")
}
