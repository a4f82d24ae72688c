package delivery

import (
	"context"
	"iter"

	"github.com/nerrad567/victron-ble2mqtt/internal/journal"
	"github.com/nerrad567/victron-ble2mqtt/internal/outbox"
	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// Publisher sends one message to the broker. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Remover deletes delivered records from the outbox.
type Remover interface {
	Remove(ctx context.Context, key string) error
}

// Storer persists undelivered records.
type Storer interface {
	Store(ctx context.Context, e outbox.Entry) error
}

// Lister enumerates outbox entries.
type Lister interface {
	List(ctx context.Context) iter.Seq2[outbox.Entry, error]
}

// Recorder keeps a history of publish attempts. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, a journal.Attempt) error
}

// Mirror receives every submitted record in addition to the broker, such
// as a console echo or a time-series database.
type Mirror interface {
	Mirror(ctx context.Context, rec telemetry.Record) error
}

// Logger is the structured logger used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics counts delivery events. *metrics.Metrics satisfies it.
type Metrics interface {
	PublishAttempted()
	PublishFinished(outcome string)
	OutboxStored()
	Replayed(outcome string)
	OutboxEntries(n int)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopMetrics struct{}

func (nopMetrics) PublishAttempted()      {}
func (nopMetrics) PublishFinished(string) {}
func (nopMetrics) OutboxStored()          {}
func (nopMetrics) Replayed(string)        {}
func (nopMetrics) OutboxEntries(int)      {}
