package worker

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/order"
	"main/pkg/exception"
)

// SignalFunc produces the next order request for a strategy, or false
// when the strategy has nothing to do this round. MarketView carries
// the latest broadcast account data.
type SignalFunc func(view MarketView) (bus.Request, bool)

// FillFunc receives terminal order outcomes routed back to the strategy.
type FillFunc func(fill bus.Fill)

// MarketView is the strategy-visible snapshot of broadcast state.
type MarketView struct {
	Fees     map[string]decimal.Decimal
	Balances map[string]decimal.Decimal
}

// Strategy is a trading strategy loop. It turns signals into order
// requests on the work queue and consumes fill reports addressed to it.
type Strategy struct {
	name    string
	id      int64
	end     bus.Endpoint
	queue   *bus.Queue
	signal  SignalFunc
	onFill  FillFunc
	metrics *obs.Metrics

	view MarketView
}

// NewStrategy wires a strategy worker. id must be positive; it becomes
// the strategy digits of every order this strategy places.
func NewStrategy(name string, id int64, end bus.Endpoint, queue *bus.Queue, signal SignalFunc, onFill FillFunc, metrics *obs.Metrics) (*Strategy, error) {
	if id <= 0 || id >= order.IDBase {
		return nil, errors.Errorf("strategy id %d out of range (1..%d)", id, order.IDBase-1)
	}
	return &Strategy{name: name, id: id, end: end, queue: queue, signal: signal, onFill: onFill, metrics: metrics}, nil
}

// ID returns the strategy identifier.
func (s *Strategy) ID() int64 { return s.id }

// Run is the strategy main loop. Idle rounds poll the signal function;
// inbound messages update the market view or deliver fills.
func (s *Strategy) Run(ctx context.Context) error {
	defer s.end.Shutdown("strategy exited")

	if err := s.end.Send(ctx, bus.Message{Kind: bus.KindName, Name: s.name}); err != nil {
		return errors.Wrapf(err, "announce strategy %s", s.name)
	}

	for {
		m, ok := s.end.Next(ctx)
		if !ok {
			return nil
		}
		switch m.Kind {
		case bus.KindEmpty:
			s.emit()
		case bus.KindFees:
			s.view.Fees = m.Fees
		case bus.KindBalance:
			s.view.Balances = m.Balances
		case bus.KindOrder:
			if m.Fill != nil && s.onFill != nil {
				s.onFill(*m.Fill)
			}
		case bus.KindStart:
		default:
			logs.Warnf("strategy %s ignoring message %s", s.name, m.Kind)
		}
	}
}

func (s *Strategy) emit() {
	if s.signal == nil {
		return
	}
	req, ok := s.signal(s.view)
	if !ok {
		return
	}
	req.StrategyID = s.id
	if err := s.queue.TryPush(req); err != nil {
		if exception.IsQueueClosed(err) {
			return
		}
		s.metrics.IncQueueDrop()
		logs.Warnf("strategy %s dropped request: %v", s.name, err)
	}
}
