package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/config"
)

// Logger wraps slog.Logger with victron-ble2mqtt defaults.
//
// It provides structured logging with default fields and level-based filtering.
// When a file sink is configured every record is written to both the
// console stream and the file.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	file *os.File
}

// New creates a new Logger writing to the configured console stream only.
//
// Parameters:
//   - cfg: Logging configuration from config.yml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(consoleWriter(cfg), cfg, version)),
	}
}

// NewForDevice creates a Logger that also appends to the per-device log file
// when cfg.File.Enabled is set. The file defaults to
// "<cfg.File.Dir>/victron-<device>.log".
//
// The caller must Close the returned logger to release the file.
func NewForDevice(cfg config.LoggingConfig, version, device string) (*Logger, error) {
	if !cfg.File.Enabled {
		l := New(cfg, version)
		return l.With("device", device), nil
	}

	path := cfg.File.Path
	if path == "" {
		path = filepath.Join(cfg.File.Dir, fmt.Sprintf("victron-%s.log", device))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := newHandler(io.MultiWriter(consoleWriter(cfg), f), cfg, version)

	return &Logger{
		Logger: slog.New(handler).With("device", device),
		file:   f,
	}, nil
}

func consoleWriter(cfg config.LoggingConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

func newHandler(output io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return handler.WithAttrs([]slog.Attr{
		slog.String("service", "victron-ble2mqtt"),
		slog.String("version", version),
	})
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
// The returned logger shares the file sink; only the root needs closing.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("syncing log file: %w", err)
	}
	return l.file.Close()
}
