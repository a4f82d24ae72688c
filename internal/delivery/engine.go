package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/victron-ble2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/victron-ble2mqtt/internal/journal"
	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// DefaultMaxAttempts bounds publish attempts when the caller passes zero.
const DefaultMaxAttempts = 5

// Engine publishes one record with a bounded number of attempts.
//
// Engine never writes to the outbox. It removes a record's entry after a
// successful publish whether or not the entry exists, which makes live
// publishes and replays go through the same path.
//
// Thread Safety: Attempt is safe for concurrent use.
type Engine struct {
	publisher      Publisher
	outbox         Remover
	baseTopic      string
	qos            byte
	retain         bool
	backoff        Backoff
	stopOnRejected bool
	runID          string
	journal        Recorder
	logger         Logger
	metrics        Metrics
	now            func() time.Time
}

// EngineOptions holds configuration for creating an Engine.
type EngineOptions struct {
	// Publisher is the broker connection. Required.
	Publisher Publisher

	// Outbox removes delivered entries. Required.
	Outbox Remover

	// BaseTopic is the first topic level, e.g. "victron". Required.
	BaseTopic string

	// QoS and Retain apply to every telemetry publish.
	QoS    byte
	Retain bool

	// Backoff is the delay between attempts.
	Backoff Backoff

	// StopOnRejected ends the attempt loop at the first Rejected outcome
	// instead of retrying it like Unreachable.
	StopOnRejected bool

	// RunID tags journal rows.
	RunID string

	// Journal is optional.
	Journal Recorder

	// Logger and Metrics are optional.
	Logger  Logger
	Metrics Metrics
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if opts.BaseTopic == "" {
		return nil, errors.New("base topic is required")
	}

	e := &Engine{
		publisher:      opts.Publisher,
		outbox:         opts.Outbox,
		baseTopic:      opts.BaseTopic,
		qos:            opts.QoS,
		retain:         opts.Retain,
		backoff:        opts.Backoff,
		stopOnRejected: opts.StopOnRejected,
		runID:          opts.RunID,
		journal:        opts.Journal,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            time.Now,
	}
	if e.logger == nil {
		e.logger = nopLogger{}
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e, nil
}

// Attempt publishes rec to <base>/<device_type>/<device_name> up to
// maxAttempts times (DefaultMaxAttempts when maxAttempts <= 0), waiting the
// backoff between failures. It returns at the first Delivered outcome and
// then removes rec's outbox entry.
//
// Cancelling ctx ends the loop at the next retry boundary. The outcome of
// the last attempt is returned, or Unreachable when none was made.
func (e *Engine) Attempt(ctx context.Context, rec telemetry.Record, maxAttempts int) Outcome {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	key := rec.Key()
	topic := mqtt.Topics{}.Device(e.baseTopic, rec.DeviceType, rec.DeviceName)

	payload, err := rec.Payload()
	if err != nil {
		e.logger.Error("encoding payload failed", "key", key, "error", err)
		e.finish(ctx, key, topic, Rejected, 0)
		return Rejected
	}

	outcome := Unreachable
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, e.backoff.Duration(attempt-1)); err != nil {
				break
			}
		} else if ctx.Err() != nil {
			break
		}

		attempts = attempt
		e.metrics.PublishAttempted()

		err := e.publisher.Publish(topic, payload, e.qos, e.retain)
		outcome = outcomeOf(err)
		if outcome == Delivered {
			e.logger.Info("published",
				"key", key,
				"topic", topic,
				"attempt", attempt,
				"max_attempts", maxAttempts,
			)
			break
		}

		e.logger.Warn("publish attempt failed",
			"key", key,
			"topic", topic,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"outcome", outcome.String(),
			"error", err,
		)

		if outcome == Rejected && e.stopOnRejected {
			break
		}
	}

	if outcome == Delivered {
		// Removal must happen even when ctx was cancelled mid-publish.
		if err := e.outbox.Remove(context.WithoutCancel(ctx), key); err != nil {
			e.logger.Warn("removing delivered entry failed", "key", key, "error", err)
		}
	} else {
		e.logger.Error("publish attempts exhausted",
			"key", key,
			"topic", topic,
			"attempts", attempts,
			"max_attempts", maxAttempts,
			"outcome", outcome.String(),
			"cancelled", ctx.Err() != nil,
		)
	}

	e.finish(ctx, key, topic, outcome, attempts)
	return outcome
}

func (e *Engine) finish(ctx context.Context, key, topic string, outcome Outcome, attempts int) {
	e.metrics.PublishFinished(outcome.String())

	if e.journal == nil {
		return
	}
	err := e.journal.Record(context.WithoutCancel(ctx), journal.Attempt{
		RunID:     e.runID,
		RecordKey: key,
		Topic:     topic,
		Source:    string(SourceFrom(ctx)),
		Outcome:   outcome.String(),
		Attempts:  attempts,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logger.Warn("journal write failed", "key", key, "error", fmt.Errorf("recording attempt: %w", err))
	}
}
