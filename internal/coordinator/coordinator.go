// Package coordinator runs the central process: it registers workers,
// routes tagged messages between them, distributes shared account
// state, and propagates shutdown.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/order"
)

// Config tunes the coordinator.
type Config struct {
	// ChannelBuffer sizes each channel direction.
	ChannelBuffer int
	// IdleDelay overrides the channel idle delay, for tests.
	IdleDelay time.Duration
	// StopTimeout bounds the best-effort stop message delivery.
	StopTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 16
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	return cfg
}

// Coordinator owns the channel registry and runs one dispatch loop per
// live channel.
type Coordinator struct {
	reg     *Registry
	state   *SharedState
	metrics *obs.Metrics
	cfg     Config

	mu         sync.Mutex
	names      map[bus.Role]string
	lastStatus bus.Status

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a coordinator over the given shared state.
func New(state *SharedState, metrics *obs.Metrics, cfg Config) *Coordinator {
	return &Coordinator{
		reg:     NewRegistry(),
		state:   state,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		names:   make(map[bus.Role]string),
	}
}

// State returns the shared-state handle workers are constructed with.
func (c *Coordinator) State() *SharedState {
	return c.state
}

// Registry exposes channel bookkeeping for diagnostics.
func (c *Coordinator) Registry() *Registry {
	return c.reg
}

// Attach registers a worker role, starts its dispatch loop, and returns
// the worker-side endpoint. A duplicate registration while the previous
// channel is up is refused.
func (c *Coordinator) Attach(ctx context.Context, role bus.Role) (bus.Endpoint, error) {
	ch, err := c.reg.Attach(role, c.cfg.ChannelBuffer)
	if err != nil {
		return bus.Endpoint{}, err
	}
	if c.cfg.IdleDelay > 0 {
		ch.SetIdleDelay(c.cfg.IdleDelay)
	}
	logs.Infof("worker registered: role %d (%s)", role, role)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatch(ctx, ch)
	}()
	return ch.WorkerEnd(), nil
}

// Wait blocks until every dispatch loop has exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop raises the stop flag, shuts down every live channel, and joins
// all dispatch loops.
func (c *Coordinator) Stop(reason string) {
	c.stopOnce.Do(func() {
		c.state.RequestStop()
		logs.Infof("coordinator stopping: %s", reason)
		for _, ch := range c.reg.Live() {
			c.stopChannel(ch, reason)
		}
	})
	c.wg.Wait()
}

func (c *Coordinator) stopChannel(ch *bus.Channel, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()
	end := ch.CoordinatorEnd()
	if err := end.Send(ctx, bus.Message{Kind: bus.KindStop, Targets: []string{bus.StopAll}}); err != nil {
		// The worker stopped reading; force the link down.
		ch.Shutdown(reason)
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ch *bus.Channel) {
	end := ch.CoordinatorEnd()
	role := ch.Role()
	for {
		m, ok := end.Next(ctx)
		if !ok {
			logs.Infof("dispatch loop for role %d (%s) exited: %s", role, role, ch.DownReason())
			return
		}
		if c.state.Stopped() {
			c.stopChannel(ch, "stop flag raised")
			return
		}
		if m.Kind == bus.KindEmpty {
			continue
		}
		c.handle(ctx, role, m)
	}
}

func (c *Coordinator) handle(ctx context.Context, from bus.Role, m bus.Message) {
	switch m.Kind {
	case bus.KindName:
		c.mu.Lock()
		c.names[from] = m.Name
		c.mu.Unlock()
		logs.Infof("worker role %d announced as %q", from, m.Name)

	case bus.KindFees:
		c.state.SetFees(m.Fees)
		c.broadcastToStrategies(ctx, m)

	case bus.KindBalance:
		c.state.SetBalances(m.Balances)
		c.broadcastToStrategies(ctx, m)

	case bus.KindOrder:
		c.routeFill(ctx, m)

	case bus.KindRunningClients:
		c.replyRunning(ctx, from)

	case bus.KindStatusUpdate:
		c.handleStatus(ctx, from, m)

	case bus.KindStart:
		c.forwardByName(ctx, m, m.Name)

	case bus.KindStop:
		c.handleStop(ctx, m)

	default:
		// Forward-compatible: unknown tags are logged and dropped.
		logs.Warnf("unrecognized message kind %d from role %d, ignoring", m.Kind, from)
	}
}

func (c *Coordinator) routeFill(ctx context.Context, m bus.Message) {
	if m.Fill == nil {
		logs.Warnf("order message without fill payload, ignoring")
		return
	}
	target := bus.Role(order.StrategyOf(m.Fill.OrderID))
	if !c.sendTo(ctx, target, m) {
		c.metrics.IncRouteDrop()
		logs.Warnf("fill for order %d undeliverable: strategy %d not live", m.Fill.OrderID, target)
	}
	// Performance bookkeeping gets a copy of every fill.
	c.sendTo(ctx, bus.RolePerformance, m)
}

func (c *Coordinator) replyRunning(ctx context.Context, to bus.Role) {
	c.mu.Lock()
	targets := make([]string, 0, len(c.names))
	for role, name := range c.names {
		if ch, ok := c.reg.Get(role); ok && ch.State() == bus.StateUp {
			targets = append(targets, name)
		}
	}
	c.mu.Unlock()
	c.sendTo(ctx, to, bus.Message{Kind: bus.KindRunningClients, Targets: targets})
}

// handleStatus caches order-worker status reports and serves console
// queries from the cache.
func (c *Coordinator) handleStatus(ctx context.Context, from bus.Role, m bus.Message) {
	if m.Status != nil {
		c.mu.Lock()
		c.lastStatus = *m.Status
		c.mu.Unlock()
		return
	}
	if from != bus.RoleConsole {
		return
	}
	c.mu.Lock()
	status := c.lastStatus
	for _, name := range c.names {
		status.Workers = append(status.Workers, name)
	}
	c.mu.Unlock()
	c.sendTo(ctx, bus.RoleConsole, bus.Message{Kind: bus.KindStatusUpdate, Status: &status})
}

func (c *Coordinator) handleStop(ctx context.Context, m bus.Message) {
	for _, target := range m.Targets {
		if target == bus.StopAll {
			c.state.RequestStop()
			go c.Stop("global stop requested")
			return
		}
	}
	for _, target := range m.Targets {
		c.forwardByName(ctx, m, target)
	}
}

func (c *Coordinator) forwardByName(ctx context.Context, m bus.Message, name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	var target bus.Role
	found := false
	for role, n := range c.names {
		if n == name {
			target, found = role, true
			break
		}
	}
	c.mu.Unlock()
	if !found || !c.sendTo(ctx, target, m) {
		c.metrics.IncRouteDrop()
		logs.Warnf("message %s for worker %q undeliverable", m.Kind, name)
	}
}

func (c *Coordinator) broadcastToStrategies(ctx context.Context, m bus.Message) {
	for _, ch := range c.reg.Live() {
		if !ch.Role().IsStrategy() {
			continue
		}
		if err := ch.CoordinatorEnd().Send(ctx, m); err != nil {
			logs.Warnf("broadcast %s to strategy %d failed: %v", m.Kind, ch.Role(), err)
		}
	}
}

func (c *Coordinator) sendTo(ctx context.Context, role bus.Role, m bus.Message) bool {
	ch, ok := c.reg.Get(role)
	if !ok || ch.State() != bus.StateUp {
		return false
	}
	if err := ch.CoordinatorEnd().Send(ctx, m); err != nil {
		logs.Warnf("send %s to role %d failed: %v", m.Kind, role, err)
		return false
	}
	return true
}
