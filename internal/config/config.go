// Package config loads the contacts engine's runtime configuration: the
// database file location, SQLite retry/locking tuning, and OOB compression
// thresholds. A typed struct with environment overrides and a tolerant
// missing-file default, expressed through spf13/viper + BurntSushi/toml.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunables the engine reads at startup.
type Config struct {
	// DatabasePath is the SQLite file the engine opens (component B/C/H/I
	// storage).
	DatabasePath string `mapstructure:"database_path"`

	// BusyTimeout and MaxElapsedRetry tune the SQLite backend's BEGIN
	// IMMEDIATE retry behavior (internal/storage/sqlite.Config).
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxElapsedRetry time.Duration `mapstructure:"max_elapsed_retry"`

	// CompressionEntropyThreshold and CompressionMinSize are loaded but not
	// passed to the SQLite backend: component H's opportunistic zstd
	// compression uses the fixed thresholds in internal/storage/sqlite/oob.go.
	CompressionEntropyThreshold float64 `mapstructure:"compression_entropy_threshold"`
	CompressionMinSize          int     `mapstructure:"compression_min_size"`

	// AttachThreshold is the aggregation engine's minimum match score
	// (spec.md §4.E.1) required to attach rather than mint a fresh
	// aggregate.
	AttachThreshold int `mapstructure:"attach_threshold"`
}

// Defaults returns the built-in configuration used when no config file or
// environment override is present.
func Defaults() Config {
	return Config{
		DatabasePath:                "contacts.db",
		BusyTimeout:                 5 * time.Second,
		MaxElapsedRetry:             10 * time.Second,
		CompressionEntropyThreshold: 7.5,
		CompressionMinSize:          64,
		AttachThreshold:             15,
	}
}

// Load reads configuration from configPath (a TOML file) if it exists,
// layered over Defaults(), with CONTACTSDB_-prefixed environment variables
// taking precedence over both. A missing file is not an error — it mirrors
// LoadLocalConfig's tolerant-missing-file convention.
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("CONTACTSDB")
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, err
			}
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("busy_timeout", cfg.BusyTimeout)
	v.SetDefault("max_elapsed_retry", cfg.MaxElapsedRetry)
	v.SetDefault("compression_entropy_threshold", cfg.CompressionEntropyThreshold)
	v.SetDefault("compression_min_size", cfg.CompressionMinSize)
	v.SetDefault("attach_threshold", cfg.AttachThreshold)
}
