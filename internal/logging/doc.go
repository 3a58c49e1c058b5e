// Package logging provides structured logging for miiobridge.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the bridge. It provides both general logging
// functions and specialized functions for device-polling and MQTT events.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (poll cycles, MQTT publishes)
//   - Info: Normal operations (availability changes, device commands)
//   - Warn: Non-fatal issues (poll failures, retries)
//   - Error: Fatal issues (startup failures, critical errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device registered",
//	    zap.String("device_id", "112233445"),
//	    zap.String("model", "zhimi.airpurifier.mb3"),
//	)
//
// # Configuration
//
// CLI commands are silent by default; set MIIOBRIDGE_LOG_LEVEL to enable
// output. The daemon initializes logging explicitly at startup:
//
//	if err := logging.Initialize("info"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
