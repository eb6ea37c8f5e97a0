// Package burrow is an embedded, multi-version object database. A process
// opens the same database file from many goroutines; a per-file coordinator
// caches handles, observes commits from other processes, and keeps
// asynchronous query results current as storage advances through committed
// versions.
package burrow

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/coordinator"
	"github.com/burrowdb/burrow/telemetry"
)

// Initialize loads the process configuration, sets up logging, and enables
// telemetry. Optional; without it the library runs on defaults.
func Initialize(configPath string) error {
	if err := cfg.Load(configPath); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	telemetry.InitializeTelemetry()
	return nil
}

// Open opens a handle for config, constructing the path's coordinator on
// first use. Close the handle when done.
func Open(config cfg.DatabaseConfig) (*coordinator.Handle, error) {
	return coordinator.OpenHandle(config)
}

// ClearCache closes every cached handle in the process and empties the
// coordinator registry.
func ClearCache() {
	coordinator.ClearCache()
}
