// Package logging provides structured logging for gridctl.
//
// It wraps the standard log/slog package so every process (driver bots,
// the macro robot, the supervisor) logs with the same shape.
//
// # Features
//
//   - JSON output for unattended runs (machine-parsable)
//   - Text output for the bench terminal (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Source locations at debug level
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.NewService(cfg.Logging, "gridctl-bank", version)
//	logger.Info("serial port opened", "port", "/dev/ttyACM0")
//	logger.Error("write failed", "error", err)
package logging
