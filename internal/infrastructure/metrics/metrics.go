package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the delivery counters for one run.
//
// Every Metrics owns a private registry, so several can coexist in tests
// and nothing leaks into prometheus.DefaultRegisterer.
type Metrics struct {
	registry *prometheus.Registry

	attempts      prometheus.Counter
	outcomes      *prometheus.CounterVec
	stored        prometheus.Counter
	replayed      *prometheus.CounterVec
	outboxEntries prometheus.Gauge
}

// New creates and registers the delivery metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "victron_publish_attempts_total",
			Help: "Total MQTT publish calls made for telemetry records.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "victron_publish_outcomes_total",
			Help: "Finished record deliveries by final outcome.",
		}, []string{"outcome"}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "victron_outbox_stored_total",
			Help: "Records written to the store-and-forward directory.",
		}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "victron_outbox_replayed_total",
			Help: "Outbox entries replayed by outcome.",
		}, []string{"outcome"}),
		outboxEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "victron_outbox_entries",
			Help: "Entries waiting in the store-and-forward directory.",
		}),
	}

	m.registry.MustRegister(m.attempts, m.outcomes, m.stored, m.replayed, m.outboxEntries)
	return m
}

// PublishAttempted counts one publish call.
func (m *Metrics) PublishAttempted() {
	m.attempts.Inc()
}

// PublishFinished counts one finished delivery with its final outcome.
func (m *Metrics) PublishFinished(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

// OutboxStored counts one record written to the outbox.
func (m *Metrics) OutboxStored() {
	m.stored.Inc()
}

// Replayed counts one outbox entry replayed with the given outcome.
func (m *Metrics) Replayed(outcome string) {
	m.replayed.WithLabelValues(outcome).Inc()
}

// OutboxEntries sets the current outbox size.
func (m *Metrics) OutboxEntries(n int) {
	m.outboxEntries.Set(float64(n))
}

// WriteTextfile writes all metrics in the text exposition format for the
// node_exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
