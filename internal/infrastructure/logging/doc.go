// Package logging provides structured logging for victron-ble2mqtt.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge.
//
// # Features
//
//   - JSON output for log shippers, text output for terminals
//   - Default fields (service, version) on all log entries
//   - Optional per-device log file written alongside the console stream
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  file:
//	    enabled: true
//	    dir: "logs"      # logs/victron-<device>.log
//
// The --debug and --quiet flags override level with debug and error.
//
// # Security
//
// Never log broker passwords or device encryption keys.
package logging
