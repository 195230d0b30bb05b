// Package logging provides structured logging for the knxnetip daemon and
// CLI.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for the daemon (machine-parsable)
//   - Text output on stderr for CLI commands
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger := logging.New(cfg.Logging, version)
//	conn, err := client.New(opts, logger.With("component", "client"))
//
// Never log secrets: MQTT passwords, InfluxDB tokens or JWT secrets.
package logging
