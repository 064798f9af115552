package worker

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
)

// StatusFunc receives console status replies.
type StatusFunc func(status bus.Status)

// ClientsFunc receives the running worker name list.
type ClientsFunc func(names []string)

// Console is the operator control worker. It issues queries and control
// commands through its coordinator channel and surfaces the replies via
// callbacks.
type Console struct {
	name      string
	end       bus.Endpoint
	onStatus  StatusFunc
	onClients ClientsFunc
}

// NewConsole wires the operator console.
func NewConsole(end bus.Endpoint, onStatus StatusFunc, onClients ClientsFunc) *Console {
	return &Console{name: "console", end: end, onStatus: onStatus, onClients: onClients}
}

// Run consumes replies until stopped.
func (c *Console) Run(ctx context.Context) error {
	defer c.end.Shutdown("console exited")

	if err := c.end.Send(ctx, bus.Message{Kind: bus.KindName, Name: c.name}); err != nil {
		return errors.Wrap(err, "announce console worker")
	}

	for {
		m, ok := c.end.Next(ctx)
		if !ok {
			return nil
		}
		switch m.Kind {
		case bus.KindEmpty:
		case bus.KindStatusUpdate:
			if m.Status != nil && c.onStatus != nil {
				c.onStatus(*m.Status)
			}
		case bus.KindRunningClients:
			if c.onClients != nil {
				c.onClients(m.Targets)
			}
		case bus.KindFees, bus.KindBalance:
		default:
			logs.Warnf("console ignoring message %s", m.Kind)
		}
	}
}

// RequestStatus asks the coordinator for the cached aggregate status.
func (c *Console) RequestStatus(ctx context.Context) error {
	return c.end.Send(ctx, bus.Message{Kind: bus.KindStatusUpdate})
}

// RequestRunning asks for the names of the live workers.
func (c *Console) RequestRunning(ctx context.Context) error {
	return c.end.Send(ctx, bus.Message{Kind: bus.KindRunningClients})
}

// Start forwards a start command to the named worker.
func (c *Console) Start(ctx context.Context, name string) error {
	return c.end.Send(ctx, bus.Message{Kind: bus.KindStart, Name: name})
}

// StopWorkers stops the named workers.
func (c *Console) StopWorkers(ctx context.Context, names ...string) error {
	return c.end.Send(ctx, bus.Message{Kind: bus.KindStop, Targets: names})
}

// StopAll halts the whole process tree.
func (c *Console) StopAll(ctx context.Context) error {
	return c.end.Send(ctx, bus.Message{Kind: bus.KindStop, Targets: []string{bus.StopAll}})
}
