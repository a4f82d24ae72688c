package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/victron-ble2mqtt/internal/outbox"
	"github.com/nerrad567/victron-ble2mqtt/internal/telemetry"
)

// ErrPipelineClosed is returned by Submit after Wait has been called.
var ErrPipelineClosed = errors.New("delivery: pipeline closed")

// Pipeline turns a decoded sample into a delivered or stored record.
type Pipeline struct {
	engine      *Engine
	outbox      Storer
	maxAttempts int
	clock       func() time.Time
	mirrors     []Mirror
	logger      Logger
	metrics     Metrics

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// PipelineOptions holds configuration for creating a Pipeline.
type PipelineOptions struct {
	Engine      *Engine
	Outbox      Storer
	MaxAttempts int

	// Clock stamps captured_at. Defaults to time.Now.
	Clock func() time.Time

	// Mirrors receive every submitted record regardless of outcome.
	Mirrors []Mirror

	Logger  Logger
	Metrics Metrics
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Outbox == nil {
		return nil, errors.New("outbox is required")
	}

	p := &Pipeline{
		engine:      opts.Engine,
		outbox:      opts.Outbox,
		maxAttempts: opts.MaxAttempts,
		clock:       opts.Clock,
		mirrors:     opts.Mirrors,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = nopLogger{}
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	return p, nil
}

// Submit stamps the sample with the current time, attempts a live publish
// and stores the record in the outbox if that does not deliver it.
//
// The returned error is non-nil only when the record could be neither
// delivered nor stored, in which case it is lost.
func (p *Pipeline) Submit(ctx context.Context, fields telemetry.Fields, deviceType, deviceName string) (Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Unreachable, ErrPipelineClosed
	}
	p.inFlight.Add(1)
	p.mu.Unlock()
	defer p.inFlight.Done()

	rec := telemetry.Record{
		DeviceType: deviceType,
		DeviceName: deviceName,
		Fields:     fields,
		CapturedAt: p.clock().UnixMilli(),
	}
	key := rec.Key()

	for _, m := range p.mirrors {
		if err := m.Mirror(ctx, rec); err != nil {
			p.logger.Warn("mirroring sample failed", "key", key, "error", err)
		}
	}

	outcome := p.engine.Attempt(WithSource(ctx, SourceLive), rec, p.maxAttempts)
	if outcome == Delivered {
		return outcome, nil
	}

	data, err := rec.Marshal()
	if err != nil {
		p.logger.Error("record lost", "key", key, "error", err)
		return outcome, err
	}

	// Storing must survive a shutdown signal that arrived mid-retry.
	err = p.outbox.Store(context.WithoutCancel(ctx), outbox.Entry{Key: key, Payload: data})
	if err != nil {
		p.logger.Error("record lost", "key", key, "error", err)
		return outcome, fmt.Errorf("storing %s: %w", key, err)
	}

	p.metrics.OutboxStored()
	p.logger.Info("stored for later delivery", "key", key, "outcome", outcome.String())
	return outcome, nil
}

// Wait blocks until every in-flight Submit has returned. Later Submit
// calls fail with ErrPipelineClosed.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inFlight.Wait()
}
