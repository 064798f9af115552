package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/order"
)

func strategyChannel(t *testing.T, role bus.Role) (*bus.Channel, bus.Endpoint) {
	t.Helper()
	ch := bus.NewChannel(role)
	ch.SetIdleDelay(2 * time.Millisecond)
	require.NoError(t, ch.Setup(16))
	return ch, ch.CoordinatorEnd()
}

func TestNewStrategyValidatesID(t *testing.T) {
	ch, _ := strategyChannel(t, bus.Role(1))
	queue := bus.NewQueue(4)

	_, err := NewStrategy("s", 0, ch.WorkerEnd(), queue, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewStrategy("s", order.IDBase, ch.WorkerEnd(), queue, nil, nil, nil)
	assert.Error(t, err)
	s, err := NewStrategy("s", 42, ch.WorkerEnd(), queue, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.ID())
}

func TestStrategyEmitsSignalsToQueue(t *testing.T) {
	ch, coord := strategyChannel(t, bus.Role(9))
	queue := bus.NewQueue(4)

	var sent atomic.Bool
	signal := func(MarketView) (bus.Request, bool) {
		if sent.Swap(true) {
			return bus.Request{}, false
		}
		return bus.Request{
			Spec: exchange.OrderSpec{
				Pair:   "BTC/USD",
				Side:   exchange.SideBuy,
				Kind:   exchange.KindLimit,
				Volume: decimal.NewFromInt(1),
				Price:  decimal.NewFromInt(100),
			},
			Policy: order.PolicyBestLimit,
		}, true
	}

	s, err := NewStrategy("momentum", 9, ch.WorkerEnd(), queue, signal, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(t.Context()) }()

	m, err := coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindName, m.Kind)
	assert.Equal(t, "momentum", m.Name)

	var req bus.Request
	require.Eventually(t, func() bool {
		r, ok := queue.TryPop()
		if ok {
			req = r
		}
		return ok
	}, 2*time.Second, 2*time.Millisecond)
	// The strategy stamps its own id on every request.
	assert.Equal(t, int64(9), req.StrategyID)
	assert.Equal(t, order.PolicyBestLimit, req.Policy)

	require.NoError(t, coord.Send(t.Context(), bus.Message{Kind: bus.KindStop, Targets: []string{bus.StopAll}}))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("strategy did not stop")
	}
	assert.Equal(t, bus.StateDown, ch.State())
}

func TestStrategyCountsQueueDrops(t *testing.T) {
	ch, coord := strategyChannel(t, bus.Role(6))
	queue := bus.NewQueue(1)
	metrics := obs.NewMetrics()

	// Nobody drains the queue, so every signal past the first drops.
	signal := func(MarketView) (bus.Request, bool) {
		return bus.Request{
			Spec: exchange.OrderSpec{
				Pair:   "BTC/USD",
				Side:   exchange.SideBuy,
				Kind:   exchange.KindMarket,
				Volume: decimal.NewFromInt(1),
			},
		}, true
	}

	s, err := NewStrategy("greedy", 6, ch.WorkerEnd(), queue, signal, nil, metrics)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(t.Context()) }()

	require.Eventually(t, func() bool {
		return metrics.Snapshot().QueueDrops > 0
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, coord.Send(t.Context(), bus.Message{Kind: bus.KindStop, Targets: []string{bus.StopAll}}))
	require.NoError(t, <-done)
}

func TestStrategyReceivesFillsAndAccountState(t *testing.T) {
	ch, coord := strategyChannel(t, bus.Role(4))
	queue := bus.NewQueue(4)

	fills := make(chan bus.Fill, 1)
	s, err := NewStrategy("carry", 4, ch.WorkerEnd(), queue, nil, func(f bus.Fill) {
		fills <- f
	}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(t.Context()) }()

	require.NoError(t, coord.Send(t.Context(), bus.Message{
		Kind: bus.KindFees,
		Fees: map[string]decimal.Decimal{"BTC/USD": decimal.RequireFromString("0.0016")},
	}))
	require.NoError(t, coord.Send(t.Context(), bus.Message{
		Kind: bus.KindOrder,
		Fill: &bus.Fill{OrderID: 1004, Volume: decimal.NewFromInt(1)},
	}))

	select {
	case f := <-fills:
		assert.Equal(t, int64(1004), f.OrderID)
	case <-time.After(5 * time.Second):
		t.Fatal("fill not delivered")
	}

	require.NoError(t, coord.Send(t.Context(), bus.Message{Kind: bus.KindStop}))
	require.NoError(t, <-done)
}
