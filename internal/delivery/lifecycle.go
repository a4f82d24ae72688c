package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSettleDelay is how long Shutdown waits before closing the broker
// connection so that acknowledgements in flight can arrive.
const DefaultSettleDelay = 4 * time.Second

// State is the broker connection state seen by the Controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Broker is the connection the Controller manages. *mqtt.Client satisfies it.
type Broker interface {
	Connect(ctx context.Context) error
	Close() error
	SetOnConnect(func())
	SetOnDisconnect(func(err error))
}

// OutboxForwarder replays the outbox. *Forwarder satisfies it.
type OutboxForwarder interface {
	ForwardAll(ctx context.Context) ForwardResult
}

// Quiescer waits for in-flight live submissions. *Pipeline satisfies it.
type Quiescer interface {
	Wait()
}

// Controller owns the broker connection for one run.
//
// Every transition into Connected, the first connect and each automatic
// reconnect, launches one forward pass in its own goroutine. The connect
// callback itself never blocks.
type Controller struct {
	broker      Broker
	forwarder   OutboxForwarder
	pipeline    Quiescer
	settleDelay time.Duration
	logger      Logger

	mu      sync.Mutex
	state   State
	closing bool
	runCtx  context.Context
	passes  sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// ControllerOptions holds configuration for creating a Controller.
type ControllerOptions struct {
	Broker    Broker
	Forwarder OutboxForwarder
	Pipeline  Quiescer

	// SettleDelay defaults to DefaultSettleDelay. Use a negative value
	// for none.
	SettleDelay time.Duration

	Logger Logger
}

// NewController creates a Controller in the Disconnected state.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if opts.Forwarder == nil {
		return nil, errors.New("forwarder is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}

	c := &Controller{
		broker:      opts.Broker,
		forwarder:   opts.Forwarder,
		pipeline:    opts.Pipeline,
		settleDelay: opts.SettleDelay,
		logger:      opts.Logger,
		state:       Disconnected,
		runCtx:      context.Background(),
	}
	if c.settleDelay == 0 {
		c.settleDelay = DefaultSettleDelay
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	return c, nil
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start connects to the broker. Forward passes launched by connect events
// run under ctx.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.state = Connecting
	c.mu.Unlock()

	c.broker.SetOnConnect(c.handleConnected)
	c.broker.SetOnDisconnect(c.handleDisconnected)

	c.logger.Info("connecting to broker")
	if err := c.broker.Connect(ctx); err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("connecting to broker: %w", err)
	}

	c.mu.Lock()
	if c.state == Connecting {
		c.state = Connected
	}
	c.mu.Unlock()

	return nil
}

// handleConnected runs on the broker's callback goroutine.
func (c *Controller) handleConnected() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.state = Connected
	ctx := c.runCtx
	c.passes.Add(1)
	c.mu.Unlock()

	c.logger.Info("broker connected, forwarding outbox")

	go func() {
		defer c.passes.Done()
		c.forwarder.ForwardAll(ctx)
	}()
}

func (c *Controller) handleDisconnected(err error) {
	c.mu.Lock()
	if !c.closing {
		c.state = Disconnected
	}
	c.mu.Unlock()

	c.logger.Warn("broker disconnected", "error", err)
}

// Shutdown waits for in-flight submissions and forward passes, waits the
// settle delay and closes the broker connection. ctx bounds the waiting;
// the connection is closed even when ctx expires. Later calls return the
// first call's result.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Controller) shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	var errs []error

	c.pipeline.Wait()

	passesDone := make(chan struct{})
	go func() {
		c.passes.Wait()
		close(passesDone)
	}()
	select {
	case <-passesDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for forward passes: %w", ctx.Err()))
	}

	if c.settleDelay > 0 && ctx.Err() == nil {
		c.logger.Debug("settling before disconnect", "delay", c.settleDelay)
		if err := sleep(ctx, c.settleDelay); err != nil {
			errs = append(errs, fmt.Errorf("settle delay: %w", err))
		}
	}

	if err := c.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing broker: %w", err))
	}

	c.setState(Disconnected)
	c.logger.Info("broker connection closed")

	return errors.Join(errs...)
}
