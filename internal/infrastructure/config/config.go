package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownDevice is returned by ResolveDevice when the argument matches
// neither a device index nor a device name.
var ErrUnknownDevice = errors.New("config: device not found")

// Config is the root configuration structure for victron-ble2mqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Devices  []DeviceConfig `yaml:"devices"`
	Publish  PublishConfig  `yaml:"publish"`
	Scan     ScanConfig     `yaml:"scan"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Logging  LoggingConfig  `yaml:"logging"`
	Journal  JournalConfig  `yaml:"journal"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Console echoes each decoded sample to stdout: "none", "print" or "json".
	Console string `yaml:"console"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	// WARNING: Never log this value. Use String() for safe logging.
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"`
	QoS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`

	// KeepAlive is the keep-alive interval in seconds.
	KeepAlive int                 `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// String returns a string representation with password masked.
func (m MQTTConfig) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTConfig{Host:%q, Port:%d, TLS:%t, ClientID:%q, Username:%q, Password:%s, BaseTopic:%q, QoS:%d}",
		m.Host, m.Port, m.TLS, m.ClientID, m.Username, password, m.BaseTopic, m.QoS)
}

// MarshalJSON redacts the password in JSON output.
func (m MQTTConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTConfig
	safe := redacted(m)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// DeviceConfig describes one Victron device the tool can read.
// The camelCase encryptionKey matches existing config.yml files.
type DeviceConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	MAC           string `yaml:"mac"`
	EncryptionKey string `yaml:"encryptionKey"`
}

// PublishConfig controls the reliable publish pipeline.
type PublishConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryRejected bool          `yaml:"retry_rejected"`
	Backoff       BackoffConfig `yaml:"backoff"`

	// SettleDelay is waited before closing the broker connection so that
	// in-flight acknowledgements can land.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// BackoffConfig configures the delay between publish attempts.
// Factor 1 with Initial == Max gives a fixed delay.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Factor  float64       `yaml:"factor"`
}

// ScanConfig contains BLE scan settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// OutboxConfig contains store-and-forward settings.
type OutboxConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig enables an additional log file sink.
// Dir is used to build "victron-<device>.log" when Path is empty.
type FileLoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Dir     string `yaml:"dir"`
}

// JournalConfig contains settings for the SQLite delivery journal.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long journal rows are kept. Older rows are pruned
	// when the journal is opened; zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus textfile settings.
type MetricsConfig struct {
	// Textfile is written at shutdown for the node_exporter textfile collector.
	// Empty disables it.
	Textfile string `yaml:"textfile"`
}

// Console modes.
const (
	ConsoleNone  = "none"
	ConsolePrint = "print"
	ConsoleJSON  = "json"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VICTRON_SECTION_KEY
// For example: VICTRON_MQTT_HOST, VICTRON_OUTBOX_DIR
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults for a single bridge run.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "victron",
			QoS:       0,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Publish: PublishConfig{
			MaxAttempts:   5,
			RetryRejected: true,
			Backoff: BackoffConfig{
				Initial: time.Second,
				Max:     time.Second,
				Factor:  1,
			},
			SettleDelay: 4 * time.Second,
		},
		Scan: ScanConfig{
			Timeout: 60 * time.Second,
		},
		Outbox: OutboxConfig{
			Dir: "./store-and-forward",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File: FileLoggingConfig{
				Enabled: true,
				Dir:     "logs",
			},
		},
		Journal: JournalConfig{
			Path:        "./data/victron.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   30 * 24 * time.Hour,
		},
		Console: ConsoleNone,
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VICTRON_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("VICTRON_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v := os.Getenv("VICTRON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("VICTRON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("VICTRON_OUTBOX_DIR"); v != "" {
		cfg.Outbox.Dir = v
	}
	if v := os.Getenv("VICTRON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		errs = append(errs, "mqtt.base_topic must not contain wildcards")
	}

	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device is required")
	}
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
		}
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].type is required", i))
		}
		if d.MAC == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].mac is required", i))
		}
		if d.EncryptionKey == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].encryptionKey is required", i))
		}
		if strings.ContainsAny(d.Name+d.Type, "/+#") {
			errs = append(errs, fmt.Sprintf("devices[%d] name and type must not contain '/', '+' or '#'", i))
		}
	}

	if c.Publish.MaxAttempts < 1 {
		errs = append(errs, "publish.max_attempts must be at least 1")
	}
	if c.Publish.Backoff.Initial < 0 || c.Publish.Backoff.Max < 0 {
		errs = append(errs, "publish.backoff durations must not be negative")
	}
	if c.Publish.Backoff.Factor != 0 && c.Publish.Backoff.Factor < 1 {
		errs = append(errs, "publish.backoff.factor must be at least 1")
	}
	if c.Publish.SettleDelay < 0 {
		errs = append(errs, "publish.settle_delay must not be negative")
	}

	if c.Scan.Timeout <= 0 {
		errs = append(errs, "scan.timeout must be positive")
	}

	if c.Outbox.Dir == "" {
		errs = append(errs, "outbox.dir is required")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, "journal.retention must not be negative")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	switch c.Console {
	case "", ConsoleNone, ConsolePrint, ConsoleJSON:
	default:
		errs = append(errs, "console must be none, print or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ResolveDevice selects a device by list index ("0", "1", ...) or by name.
//
// Returns:
//   - DeviceConfig: The selected device
//   - int: Its index in the devices list
//   - error: ErrUnknownDevice if nothing matches
func (c *Config) ResolveDevice(arg string) (DeviceConfig, int, error) {
	if idx, err := strconv.Atoi(arg); err == nil {
		if idx < 0 || idx >= len(c.Devices) {
			return DeviceConfig{}, -1, fmt.Errorf("%w: index %d out of range", ErrUnknownDevice, idx)
		}
		return c.Devices[idx], idx, nil
	}

	for i, d := range c.Devices {
		if d.Name == arg {
			return d, i, nil
		}
	}

	return DeviceConfig{}, -1, fmt.Errorf("%w: %q", ErrUnknownDevice, arg)
}

// DeviceHelp lists the configured devices in the "N: name | " form used by
// the command-line help.
func (c *Config) DeviceHelp() string {
	var b strings.Builder
	for i, d := range c.Devices {
		fmt.Fprintf(&b, "%d: %s | ", i, d.Name)
	}
	return b.String()
}
