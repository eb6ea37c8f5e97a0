package cfg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// NotVersioned is the sentinel for a config that declares no schema version.
const NotVersioned = ^uint64(0)

// ColumnSchema declares one column of a table.
type ColumnSchema struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Nullable bool   `toml:"nullable"`
	Indexed  bool   `toml:"indexed"`
}

// TableSchema declares one table.
type TableSchema struct {
	Name    string         `toml:"name"`
	Columns []ColumnSchema `toml:"columns"`
}

// Schema is the declared schema of a database.
type Schema struct {
	Tables []TableSchema `toml:"tables"`
}

// DatabaseConfig carries the per-open options for one database file. All
// handles opened against the same file must agree on the fields the
// coordinator captures.
type DatabaseConfig struct {
	Path          string
	ReadOnly      bool
	InMemory      bool
	EncryptionKey []byte
	SchemaVersion uint64
	Schema        *Schema

	// Cache allows handle reuse on the opening goroutine.
	Cache bool
}

// NewDatabaseConfig returns a config for path with the defaults consumers
// usually want: cached, writable, no declared schema version.
func NewDatabaseConfig(path string) DatabaseConfig {
	return DatabaseConfig{
		Path:          path,
		SchemaVersion: NotVersioned,
		Cache:         true,
	}
}

// CommitLogConfiguration selects the transaction log backend.
type CommitLogConfiguration struct {
	Backend string `toml:"backend"` // "pebble" or "memory"
	Dir     string `toml:"dir"`     // base directory for pebble logs
}

// NotifierConfiguration controls cross-process commit signalling.
type NotifierConfiguration struct {
	NatsEnabled bool   `toml:"nats_enabled"`
	NatsURL     string `toml:"nats_url"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the process-wide configuration structure
type Configuration struct {
	CommitLog  CommitLogConfiguration  `toml:"commit_log"`
	Notifier   NotifierConfiguration   `toml:"notifier"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Default configuration
var Config = &Configuration{
	CommitLog: CommitLogConfiguration{
		Backend: "pebble",
		Dir:     "",
	},
	Notifier: NotifierConfiguration{
		NatsEnabled: false,
		NatsURL:     "nats://127.0.0.1:4222",
	},
	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},
	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file, keeping defaults for absent keys.
func Load(configPath string) error {
	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); err != nil {
		log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		return nil
	}
	log.Info().Str("path", configPath).Msg("Loading configuration")
	if _, err := toml.DecodeFile(configPath, Config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.CommitLog.Backend {
	case "pebble", "memory":
	default:
		return fmt.Errorf("invalid commit log backend: %s", Config.CommitLog.Backend)
	}

	if Config.Notifier.NatsEnabled && Config.Notifier.NatsURL == "" {
		return fmt.Errorf("nats notifier enabled without a URL")
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	return nil
}
