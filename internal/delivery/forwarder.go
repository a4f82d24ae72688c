package delivery

import (
	"context"
	"errors"

	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// ForwardResult summarises one Forwarder pass.
type ForwardResult struct {
	Listed    int
	Delivered int
	Failed    int
	Corrupt   int
}

// Forwarder replays outbox entries through the Engine.
//
// A pass never writes to the outbox: entries that still fail stay where
// they are for the next pass. Entries that cannot be parsed, or whose
// content does not match their file name, are logged and left in place
// for inspection.
//
// Passes may run concurrently with each other and with the Pipeline. Two
// passes can publish the same entry twice, which at-least-once allows.
type Forwarder struct {
	outbox      Lister
	engine      *Engine
	maxAttempts int
	logger      Logger
	metrics     Metrics
}

// ForwarderOptions holds configuration for creating a Forwarder.
type ForwarderOptions struct {
	Outbox      Lister
	Engine      *Engine
	MaxAttempts int
	Logger      Logger
	Metrics     Metrics
}

// NewForwarder creates a Forwarder.
func NewForwarder(opts ForwarderOptions) (*Forwarder, error) {
	if opts.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}

	f := &Forwarder{
		outbox:      opts.Outbox,
		engine:      opts.Engine,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if f.logger == nil {
		f.logger = nopLogger{}
	}
	if f.metrics == nil {
		f.metrics = nopMetrics{}
	}
	return f, nil
}

// ForwardAll attempts every entry present in the outbox when the pass
// starts. Cancelling ctx stops the pass after the current entry.
func (f *Forwarder) ForwardAll(ctx context.Context) ForwardResult {
	ctx = WithSource(ctx, SourceReplay)
	var res ForwardResult

	for entry, err := range f.outbox.List(ctx) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			f.logger.Error("reading outbox entry failed", "key", entry.Key, "error", err)
			res.Failed++
			continue
		}
		res.Listed++

		rec, err := telemetry.Unmarshal(entry.Payload)
		if err != nil {
			f.logger.Warn("skipping corrupt outbox entry", "key", entry.Key, "error", err)
			res.Corrupt++
			continue
		}
		if rec.Key() != entry.Key {
			f.logger.Warn("skipping outbox entry with mismatched key",
				"key", entry.Key,
				"record_key", rec.Key(),
			)
			res.Corrupt++
			continue
		}

		outcome := f.engine.Attempt(ctx, rec, f.maxAttempts)
		f.metrics.Replayed(outcome.String())
		if outcome == Delivered {
			res.Delivered++
		} else {
			res.Failed++
		}
	}

	f.logger.Info("outbox forward pass complete",
		"listed", res.Listed,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"corrupt", res.Corrupt,
	)
	return res
}
