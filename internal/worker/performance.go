package worker

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
)

// PairPerformance accumulates realized flow per trading pair.
type PairPerformance struct {
	Fills      int
	Rejections int
	Volume     decimal.Decimal
	Notional   decimal.Decimal
	Fees       decimal.Decimal
}

// Performance tallies every terminal order outcome. The coordinator
// copies all fill reports to it regardless of the owning strategy.
type Performance struct {
	name string
	end  bus.Endpoint

	mu    sync.Mutex
	pairs map[string]*PairPerformance
}

// NewPerformance wires the performance aggregator.
func NewPerformance(end bus.Endpoint) *Performance {
	return &Performance{
		name:  "performance",
		end:   end,
		pairs: make(map[string]*PairPerformance),
	}
}

// Run consumes fill copies until stopped.
func (p *Performance) Run(ctx context.Context) error {
	defer p.end.Shutdown("performance exited")

	if err := p.end.Send(ctx, bus.Message{Kind: bus.KindName, Name: p.name}); err != nil {
		return errors.Wrap(err, "announce performance worker")
	}

	for {
		m, ok := p.end.Next(ctx)
		if !ok {
			return nil
		}
		switch m.Kind {
		case bus.KindEmpty:
		case bus.KindOrder:
			if m.Fill != nil {
				p.record(*m.Fill)
			}
		case bus.KindFees, bus.KindBalance, bus.KindStart:
		default:
			logs.Warnf("performance worker ignoring message %s", m.Kind)
		}
	}
}

func (p *Performance) record(fill bus.Fill) {
	p.mu.Lock()
	defer p.mu.Unlock()

	perf := p.pairs[fill.Pair]
	if perf == nil {
		perf = &PairPerformance{}
		p.pairs[fill.Pair] = perf
	}
	if fill.Rejected {
		perf.Rejections++
		return
	}
	perf.Fills++
	perf.Volume = perf.Volume.Add(fill.Volume)
	perf.Notional = perf.Notional.Add(fill.Volume.Mul(fill.AvgPrice))
	perf.Fees = perf.Fees.Add(fill.Fee)
}

// Pair returns the accumulated performance for one pair.
func (p *Performance) Pair(pair string) (PairPerformance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	perf, ok := p.pairs[pair]
	if !ok {
		return PairPerformance{}, false
	}
	return *perf, true
}

// Totals sums performance across all pairs.
func (p *Performance) Totals() PairPerformance {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total PairPerformance
	for _, perf := range p.pairs {
		total.Fills += perf.Fills
		total.Rejections += perf.Rejections
		total.Volume = total.Volume.Add(perf.Volume)
		total.Notional = total.Notional.Add(perf.Notional)
		total.Fees = total.Fees.Add(perf.Fees)
	}
	return total
}
