package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DeviceKind identifies how a NAS device exposes its images.
type DeviceKind string

const (
	// KindDirectFile is a NAS whose images are individually readable
	// files under a mounted root path.
	KindDirectFile DeviceKind = "direct-file"
	// KindExternalDB is a NAS whose image metadata lives in a separate
	// relational database rather than being discoverable by a walk.
	KindExternalDB DeviceKind = "external-db"
)

// Config is the application configuration, mirroring config.yaml.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Indexing IndexingConfig `mapstructure:"indexing"`
	Log      LogConfig      `mapstructure:"log"`
	Devices  []Device       `mapstructure:"devices"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// StoreConfig holds the unified index store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// IndexingConfig tunes the device indexers and the periodic monitor.
type IndexingConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	BatchSize       int `mapstructure:"batch_size"`
	Workers         int `mapstructure:"workers"`
}

// Interval returns the periodic incremental interval as a duration.
func (c IndexingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Device describes one registered NAS device. Registration input comes
// from the discovery/config collaborator; this engine treats it as
// read-only.
type Device struct {
	ID          string     `mapstructure:"id"`
	Kind        DeviceKind `mapstructure:"kind"`
	RootPath    string     `mapstructure:"root_path"`
	DSN         string     `mapstructure:"dsn"`
	Description string     `mapstructure:"description"`
}

// Load reads the configuration file at path and applies environment
// overrides (PACS_ prefix, e.g. PACS_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = "pacs-index.yaml"
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("server.port", "8080")
	v.SetDefault("store.path", "pacs-index.db")
	v.SetDefault("indexing.interval_minutes", 15)
	v.SetDefault("indexing.batch_size", 500)
	v.SetDefault("indexing.workers", 0) // 0 = auto
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvPrefix("PACS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the device registry for consistency.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("device %d: missing id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("device %q: duplicate id", d.ID)
		}
		seen[d.ID] = true

		switch d.Kind {
		case KindDirectFile:
			if d.RootPath == "" {
				return fmt.Errorf("device %q: direct-file device requires root_path", d.ID)
			}
		case KindExternalDB:
			if d.DSN == "" {
				return fmt.Errorf("device %q: external-db device requires dsn", d.ID)
			}
		default:
			return fmt.Errorf("device %q: unknown kind %q", d.ID, d.Kind)
		}
	}

	if c.Indexing.BatchSize < 1 {
		return fmt.Errorf("indexing.batch_size must be positive, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.IntervalMinutes < 1 {
		return fmt.Errorf("indexing.interval_minutes must be positive, got %d", c.Indexing.IntervalMinutes)
	}
	return nil
}

// DeviceByID returns the registered device with the given id.
func (c *Config) DeviceByID(id string) (Device, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
