package bus

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// Role identifies which logical worker owns a channel: 0 the order
// worker, -1 the performance worker, -2 the operator console, and any
// positive value a strategy instance.
type Role int32

const (
	RoleOrderWorker Role = 0
	RolePerformance Role = -1
	RoleConsole     Role = -2
)

func (r Role) String() string {
	switch {
	case r == RoleOrderWorker:
		return "order_worker"
	case r == RolePerformance:
		return "performance"
	case r == RoleConsole:
		return "console"
	case r > 0:
		return "strategy"
	default:
		return "unknown"
	}
}

// IsStrategy reports whether the role is a strategy instance.
func (r Role) IsStrategy() bool { return r > 0 }

// State tracks the channel link. Up -> Down is one-way; a downed
// channel is never revived, the registry creates a fresh one.
type State uint8

const (
	StateUnconnected State = iota
	StateUp
	StateDown
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	default:
		return "unconnected"
	}
}

// DefaultIdleDelay is how long an iteration step waits for a message
// before yielding an empty one.
const DefaultIdleDelay = 200 * time.Millisecond

// Channel is one duplex logical link between the coordinator and
// exactly one worker. Message order is serialized along the link;
// nothing is guaranteed across different channels.
type Channel struct {
	role Role

	mu     sync.Mutex
	state  State
	reason string

	toWorker      chan Message
	toCoordinator chan Message
	done          chan struct{}

	idle time.Duration
}

// NewChannel creates an unconnected channel for a role.
func NewChannel(role Role) *Channel {
	return &Channel{role: role, idle: DefaultIdleDelay}
}

// Role returns the owning worker role.
func (c *Channel) Role() Role { return c.role }

// State returns the current link state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DownReason returns why the channel went down, if it did.
func (c *Channel) DownReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// SetIdleDelay overrides the iteration idle delay, for tests.
func (c *Channel) SetIdleDelay(d time.Duration) {
	if d > 0 {
		c.idle = d
	}
}

// Setup allocates the reader/writer pair and marks the link up.
// Setting up a channel already up is a registration conflict, never an
// override.
func (c *Channel) Setup(buffer int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateUp:
		return errors.Wrapf(exception.ErrChannelConflict, "role %d (%s)", c.role, c.role)
	case StateDown:
		return errors.Wrapf(exception.ErrChannelDown, "role %d (%s)", c.role, c.role)
	}
	if buffer <= 0 {
		buffer = 16
	}
	c.toWorker = make(chan Message, buffer)
	c.toCoordinator = make(chan Message, buffer)
	c.done = make(chan struct{})
	c.state = StateUp
	return nil
}

// Shutdown forces the link down from either side. Calling it twice is a
// no-op.
func (c *Channel) Shutdown(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUp {
		return
	}
	c.state = StateDown
	c.reason = reason
	close(c.done)
	logs.Infof("channel %s down: %s", c.role, reason)
}

// WorkerEnd returns the worker-side endpoint.
func (c *Channel) WorkerEnd() Endpoint {
	return Endpoint{ch: c, send: c.toCoordinator, recv: c.toWorker, worker: true}
}

// CoordinatorEnd returns the coordinator-side endpoint.
func (c *Channel) CoordinatorEnd() Endpoint {
	return Endpoint{ch: c, send: c.toWorker, recv: c.toCoordinator}
}

// Endpoint is one side of a channel.
type Endpoint struct {
	ch   *Channel
	send chan Message
	recv chan Message

	// worker marks the worker side. Stop messages end iteration there;
	// the coordinator side receives them like any other so they can be
	// routed.
	worker bool
}

// Role returns the role of the underlying channel.
func (e Endpoint) Role() Role { return e.ch.role }

// Shutdown forces the underlying link down from this side.
func (e Endpoint) Shutdown(reason string) { e.ch.Shutdown(reason) }

// Up reports whether the underlying link is up.
func (e Endpoint) Up() bool { return e.ch.State() == StateUp }

// Send queues a message for the peer without blocking indefinitely: a
// downed link or canceled context fails fast.
func (e Endpoint) Send(ctx context.Context, m Message) error {
	if e.ch.State() != StateUp {
		return errors.Wrapf(exception.ErrChannelNotUp, "role %d", e.ch.role)
	}
	select {
	case e.send <- m:
		return nil
	case <-e.ch.done:
		return errors.Wrapf(exception.ErrChannelDown, "role %d", e.ch.role)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll reports whether a message is available without blocking.
func (e Endpoint) Poll() bool {
	return len(e.recv) > 0
}

// Recv blocks for the next message.
func (e Endpoint) Recv(ctx context.Context) (Message, error) {
	select {
	case m := <-e.recv:
		return m, nil
	case <-e.ch.done:
		return Empty(), errors.Wrapf(exception.ErrChannelDown, "role %d", e.ch.role)
	case <-ctx.Done():
		return Empty(), ctx.Err()
	}
}

// Next is one iteration step. It waits up to the idle delay for a
// message; with nothing available it yields an empty message and true.
// On the worker side a stop message or a downed link transitions the
// channel down and ends the iteration with false.
func (e Endpoint) Next(ctx context.Context) (Message, bool) {
	if e.ch.State() != StateUp {
		return Empty(), false
	}

	timer := time.NewTimer(e.ch.idle)
	defer timer.Stop()

	select {
	case m := <-e.recv:
		if m.Kind == KindStop && e.worker {
			e.ch.Shutdown("stop message")
			return m, false
		}
		return m, true
	case <-e.ch.done:
		return Empty(), false
	case <-ctx.Done():
		e.ch.Shutdown("context canceled")
		return Empty(), false
	case <-timer.C:
		return Empty(), true
	}
}
