// Package logging provides structured logging for the swap-station core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version, station) on all log entries
//   - Per-component child loggers
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0", cfg.Station.ID)
//	logger.Component("binding").Info("connected", "mac", mac)
//
// # Security
//
// Never log broker passwords or the InfluxDB token. Customer identifiers
// from scanned QR codes may be logged; payment receipts must not be.
package logging
