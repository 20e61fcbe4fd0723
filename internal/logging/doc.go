// Package logging provides structured logging for the sensor node.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used throughout the node: plain leveled logs, state transitions of
// the bring-up components, button actions, and raw byte dumps for diagnostics.
//
// # Log Levels
//
//   - Debug: Detailed debugging info (hex dumps, per-chunk OTA progress)
//   - Info: Normal operations (boot count, state changes, actions)
//   - Warn: Non-fatal issues (seeded defaults, dropped payloads, retries)
//   - Error: Failed writes, failed updates, driver errors
//
// # Structured Logging
//
//	logging.Info("Config field seeded",
//	    zap.String("key", "drop_ch"),
//	    zap.Uint8("value", 1),
//	)
//
// # Configuration
//
// The level comes from the argument to Initialize or, when empty, from the
// SENSORNODE_LOG_LEVEL environment variable. With neither set the logger is a
// no-op, which keeps one-shot CLI commands quiet:
//
//	if err := logging.Initialize("info"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
