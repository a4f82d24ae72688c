// Package config handles loading and validating victron-ble2mqtt configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//   - Device selection by index or name
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - Device encryption keys live in the config file; restrict it to 0600
//
// Usage:
//
//	cfg, err := config.Load("config.yml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	dev, _, err := cfg.ResolveDevice("roof1")
package config
