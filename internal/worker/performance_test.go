package worker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
)

func TestPerformanceAggregatesFills(t *testing.T) {
	ch, coord := strategyChannel(t, bus.RolePerformance)
	p := NewPerformance(ch.WorkerEnd())

	done := make(chan error, 1)
	go func() { done <- p.Run(t.Context()) }()

	m, err := coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindName, m.Kind)
	assert.Equal(t, "performance", m.Name)

	sendFill := func(f bus.Fill) {
		require.NoError(t, coord.Send(t.Context(), bus.Message{Kind: bus.KindOrder, Fill: &f}))
	}
	sendFill(bus.Fill{
		OrderID: 1001, Pair: "BTC/USD",
		Volume:   decimal.RequireFromString("1"),
		AvgPrice: decimal.RequireFromString("100"),
		Fee:      decimal.RequireFromString("0.26"),
	})
	sendFill(bus.Fill{
		OrderID: 2001, Pair: "BTC/USD",
		Volume:   decimal.RequireFromString("2"),
		AvgPrice: decimal.RequireFromString("110"),
		Fee:      decimal.RequireFromString("0.57"),
	})
	sendFill(bus.Fill{OrderID: 3001, Pair: "BTC/USD", Rejected: true, Reason: "insufficient funds"})
	sendFill(bus.Fill{
		OrderID: 4002, Pair: "ETH/USD",
		Volume:   decimal.RequireFromString("5"),
		AvgPrice: decimal.RequireFromString("20"),
	})

	require.Eventually(t, func() bool {
		perf, ok := p.Pair("ETH/USD")
		return ok && perf.Fills == 1
	}, 5*time.Second, 2*time.Millisecond)

	btc, ok := p.Pair("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, 2, btc.Fills)
	assert.Equal(t, 1, btc.Rejections)
	assert.True(t, btc.Volume.Equal(decimal.RequireFromString("3")))
	// 1*100 + 2*110.
	assert.True(t, btc.Notional.Equal(decimal.RequireFromString("320")))
	assert.True(t, btc.Fees.Equal(decimal.RequireFromString("0.83")))

	total := p.Totals()
	assert.Equal(t, 3, total.Fills)
	assert.Equal(t, 1, total.Rejections)
	assert.True(t, total.Notional.Equal(decimal.RequireFromString("420")))

	_, ok = p.Pair("SOL/USD")
	assert.False(t, ok)

	require.NoError(t, coord.Send(t.Context(), bus.Message{Kind: bus.KindStop}))
	require.NoError(t, <-done)
}
