// victron-ble2mqtt reads one telemetry sample from a Victron solar charger
// over Bluetooth LE and publishes it to an MQTT broker.
//
// A sample that cannot be delivered is kept in a local store-and-forward
// directory and replayed the next time the bridge reaches the broker, so
// the bridge can run from cron or a systemd timer on a flaky link.
//
// Usage:
//
//	victron-ble2mqtt -d roof1 -C /etc/victron/config.yml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/victron-ble2mqtt/internal/bridges/victron"
	"github.com/nerrad567/victron-ble2mqtt/internal/delivery"
	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/database"
	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/metrics"
	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/victron-ble2mqtt/internal/journal"
	"github.com/nerrad567/victron-ble2mqtt/internal/outbox"
	"github.com/nerrad567/victron-ble2mqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "config.yml"

	// shutdownTimeout bounds waiting for forward passes and the settle delay.
	shutdownTimeout = 30 * time.Second
)

// newScanner is replaced in tests.
var newScanner = func() victron.Scanner { return victron.NewBLEScanner() }

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// options are the parsed command-line flags.
type options struct {
	device     string
	configPath string
	debug      bool
	quiet      bool
	version    bool
	help       bool
}

// parseFlags accepts both the short and long spelling of each flag.
func parseFlags(args []string) (*options, error) {
	o := &options{}

	fs := flag.NewFlagSet("victron-ble2mqtt", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	fs.StringVar(&o.device, "d", "", "")
	fs.StringVar(&o.device, "device", "", "device index or name from the config file (required)")
	fs.StringVar(&o.configPath, "C", getConfigPath(), "")
	fs.StringVar(&o.configPath, "config-file", getConfigPath(), "path to the YAML config file")
	fs.BoolVar(&o.debug, "debug", false, "log at debug level")
	fs.BoolVar(&o.quiet, "quiet", false, "log errors only")
	fs.BoolVar(&o.version, "v", false, "")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")

	err := fs.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		o.help = true
		return o, nil
	}
	if err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// getConfigPath returns $VICTRON_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("VICTRON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// printUsage lists the flags and, when the config file can be read, the
// configured devices.
func printUsage(w io.Writer, configPath string) {
	fmt.Fprintf(w, "Usage: victron-ble2mqtt -d <NUM|NAME> [options]\n\n")
	fmt.Fprintf(w, "Options:\n")
	fmt.Fprintf(w, "  -d, --device NUM|NAME     device index or name from the config file (required)\n")
	fmt.Fprintf(w, "  -C, --config-file PATH    config file (default %q, env VICTRON_CONFIG)\n", defaultConfigPath)
	fmt.Fprintf(w, "      --debug               log at debug level\n")
	fmt.Fprintf(w, "      --quiet               log errors only\n")
	fmt.Fprintf(w, "  -v, --version             print the version and exit\n")
	fmt.Fprintf(w, "  -h, --help                show this help\n")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(w, "\nDevices: unavailable (%v)\n", err)
		return
	}
	fmt.Fprintf(w, "\nDevices: %s\n", cfg.DeviceHelp())
}

// run is the application logic, separated from main for testability.
// It returns nil for help, version, a delivered sample and a sample stored
// for later delivery.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		printUsage(stdout, getConfigPath())
		return fmt.Errorf("parsing flags: %w", err)
	}
	if opts.version {
		fmt.Fprintf(stdout, "victron-ble2mqtt %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}
	if opts.help {
		printUsage(stdout, opts.configPath)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	switch {
	case opts.debug:
		cfg.Logging.Level = "debug"
	case opts.quiet:
		cfg.Logging.Level = "error"
	}

	if opts.device == "" {
		return fmt.Errorf("a device is required (-d NUM|NAME); configured: %s", cfg.DeviceHelp())
	}
	dev, _, err := cfg.ResolveDevice(opts.device)
	if err != nil {
		return fmt.Errorf("%w; configured: %s", err, cfg.DeviceHelp())
	}
	key, err := victron.ParseKey(dev.EncryptionKey)
	if err != nil {
		return fmt.Errorf("device %s: %w", dev.Name, err)
	}

	log, err := logging.NewForDevice(cfg.Logging, version, dev.Name)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // nothing left to report to

	runID := uuid.NewString()
	log.Info("starting victron-ble2mqtt",
		"version", version,
		"commit", commit,
		"run_id", runID,
		"config", opts.configPath,
	)

	return bridge(ctx, cfg, dev, key, runID, log, stdout)
}

// bridge wires the components for one device and runs scan, decode,
// submit and shutdown.
func bridge(ctx context.Context, cfg *config.Config, dev config.DeviceConfig, key []byte, runID string, log *logging.Logger, stdout io.Writer) error {
	m := metrics.New()
	if cfg.Metrics.Textfile != "" {
		defer func() {
			if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				log.Warn("writing metrics textfile failed", "error", err)
			}
		}()
	}

	var recorder delivery.Recorder
	if cfg.Journal.Enabled {
		j, closeJournal, err := openJournal(ctx, cfg.Journal, log)
		if err != nil {
			return err
		}
		defer closeJournal()
		recorder = j
	}

	mirrors, closeMirrors, err := openMirrors(ctx, cfg, log, stdout)
	if err != nil {
		return err
	}
	defer closeMirrors()

	store := outbox.New(cfg.Outbox.Dir)

	client := mqtt.NewClient(cfg.MQTT)
	client.SetLogger(log.With("component", "mqtt"))

	engine, err := delivery.NewEngine(delivery.EngineOptions{
		Publisher: client,
		Outbox:    store,
		BaseTopic: cfg.MQTT.BaseTopic,
		QoS:       byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		Retain:    cfg.MQTT.Retain,
		Backoff: delivery.Backoff{
			Initial: cfg.Publish.Backoff.Initial,
			Max:     cfg.Publish.Backoff.Max,
			Factor:  cfg.Publish.Backoff.Factor,
		},
		StopOnRejected: !cfg.Publish.RetryRejected,
		RunID:          runID,
		Journal:        recorder,
		Logger:         log.With("component", "engine"),
		Metrics:        m,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	forwarder, err := delivery.NewForwarder(delivery.ForwarderOptions{
		Outbox:      store,
		Engine:      engine,
		MaxAttempts: cfg.Publish.MaxAttempts,
		Logger:      log.With("component", "forwarder"),
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("creating forwarder: %w", err)
	}

	pipeline, err := delivery.NewPipeline(delivery.PipelineOptions{
		Engine:      engine,
		Outbox:      store,
		MaxAttempts: cfg.Publish.MaxAttempts,
		Mirrors:     mirrors,
		Logger:      log.With("component", "pipeline"),
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	controller, err := delivery.NewController(delivery.ControllerOptions{
		Broker:      client,
		Forwarder:   forwarder,
		Pipeline:    pipeline,
		SettleDelay: cfg.Publish.SettleDelay,
		Logger:      log.With("component", "lifecycle"),
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := controller.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
		if n, err := store.Len(shutdownCtx); err == nil {
			m.OutboxEntries(n)
			log.Info("run finished", "outbox_entries", n)
		}
	}()

	if err := controller.Start(ctx); err != nil {
		// Paho keeps retrying; until it connects, samples go to the outbox.
		log.Warn("broker unavailable, samples will be stored for later",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"error", err,
		)
	} else if err := client.HealthCheck(ctx); err != nil {
		// Dropped between connect and now; the reconnect hook will replay.
		log.Warn("MQTT health check failed", "error", err)
	} else {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", client.ClientID(),
		)
	}

	log.Info("scanning for device", "mac", dev.MAC, "timeout", cfg.Scan.Timeout)
	raw, err := victron.AwaitDevice(ctx, newScanner(), dev.MAC, cfg.Scan.Timeout)
	if err != nil {
		if errors.Is(err, victron.ErrScanTimeout) {
			log.Error("no advertisement received", "mac", dev.MAC, "timeout", cfg.Scan.Timeout)
		}
		return fmt.Errorf("scanning for %s: %w", dev.Name, err)
	}

	fields, err := victron.Decode(raw, key)
	if err != nil {
		log.Error("decoding advertisement failed", "error", err)
		return fmt.Errorf("decoding %s: %w", dev.Name, err)
	}
	log.Debug("decoded sample", "fields", len(fields))

	outcome, err := pipeline.Submit(ctx, fields, dev.Type, dev.Name)
	if err != nil {
		return fmt.Errorf("submitting sample: %w", err)
	}
	log.Info("sample handled", "outcome", outcome.String())

	return nil
}

// openJournal opens and migrates the delivery journal database.
func openJournal(ctx context.Context, cfg config.JournalConfig, log *logging.Logger) (*journal.Journal, func(), error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, err
	}

	j := journal.New(db.DB)
	if cfg.Retention > 0 {
		pruned, err := j.Prune(ctx, cfg.Retention)
		if err != nil {
			log.Warn("pruning delivery journal failed", "error", err)
		} else if pruned > 0 {
			log.Info("pruned delivery journal", "rows", pruned, "retention", cfg.Retention)
		}
	}
	log.Info("delivery journal ready", "path", cfg.Path)

	closeFn := func() {
		if err := db.Close(); err != nil {
			log.Error("error closing journal database", "error", err)
		}
	}
	return j, closeFn, nil
}

// openMirrors builds the console and InfluxDB mirrors that are enabled.
func openMirrors(ctx context.Context, cfg *config.Config, log *logging.Logger, stdout io.Writer) ([]delivery.Mirror, func(), error) {
	var mirrors []delivery.Mirror
	closeFn := func() {}

	if cfg.Console != "" && cfg.Console != config.ConsoleNone {
		console, err := delivery.NewConsoleMirror(stdout, cfg.Console)
		if err != nil {
			return nil, nil, err
		}
		mirrors = append(mirrors, console)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			// The mirror is optional; delivery goes on without it.
			log.Warn("InfluxDB unavailable, mirror disabled", "url", cfg.InfluxDB.URL, "error", err)
			return mirrors, closeFn, nil
		}
		if err := influxClient.HealthCheck(ctx); err != nil {
			log.Warn("InfluxDB unhealthy, mirror disabled", "url", cfg.InfluxDB.URL, "error", err)
			influxClient.Close() //nolint:errcheck // mirror is being dropped
			return mirrors, closeFn, nil
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mirrors = append(mirrors, influxClient)
		closeFn = func() {
			log.Info("closing InfluxDB connection")
			if err := influxClient.Close(); err != nil {
				log.Error("error closing InfluxDB", "error", err)
			}
		}
		log.Info("InfluxDB mirror enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	return mirrors, closeFn, nil
}
