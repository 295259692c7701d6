// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"engine": "debug",  // Per-module overrides
//			"api":    "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("mymodule")
//	logger.Info("Starting up", "port", 8080)
//	logger.Debug("Details", "config", cfg)
//	logger.Warn("Something unusual", "error", err)
//	logger.Error("Failed", "error", err)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("engine").With("session", id)
//	logger.Info("Session opened")  // Includes session in all logs
//
// # Log Levels
//
//	debug - Verbose debugging information
//	info  - General operational messages
//	warn  - Warning conditions
//	error - Error conditions
//
// Loggers may be obtained before Initialize; they are cached and pick up the
// configured outputs and levels once Initialize runs. SetLevels changes
// levels at runtime without rebuilding outputs.
//
// # Output Destinations
//
// The system automatically detects available outputs:
//
//	stdout                 → TextHandler or JSONHandler
//	journald, if reachable → JournalHandler
//	always                 → BufferHandler (ring buffer for /api/logs)
//
// More than one output is combined with a Fanout.
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t camcore              # All camcore logs
//	journalctl -t camcore -f           # Follow live
//	journalctl -t camcore --since "5m" # Last 5 minutes
//	journalctl -t camcore -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t camcore CAMCORE_MODULE=engine
//	journalctl -t camcore CAMCORE_SESSION=3f0c2a4e-8d7b-4f0e-9f57-0b8e51c1f2aa
//	journalctl -t camcore CAMCORE_INPUT=4
//
// Every attribute becomes a CAMCORE_ field; groups are joined with
// underscores.
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	engine = "debug"
//	api = "warn"
//	sim = "error"
package logging
