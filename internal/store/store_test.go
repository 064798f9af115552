package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/order"
)

func TestMemorySequence(t *testing.T) {
	m := NewMemory()

	first, err := m.NextOrderSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := m.NextOrderSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}

func TestMemorySequenceWrapsAtCeiling(t *testing.T) {
	m := NewMemory()
	m.SetSequence(order.SequenceCeiling - 1)

	seq, err := m.NextOrderSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	seq, err = m.NextOrderSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestMemorySnapshotRoundTrip(t *testing.T) {
	m := NewMemory()

	spec := exchange.OrderSpec{
		Pair:   "BTC/USD",
		Side:   exchange.SideBuy,
		Kind:   exchange.KindLimit,
		Volume: decimal.RequireFromString("1.5"),
		Price:  decimal.RequireFromString("100"),
	}
	a := order.New(1001, spec, order.PolicySubmitAndLeave, time.Time{})
	b := order.New(2002, spec, order.PolicyBestLimit, time.Unix(1_800_000_000, 0))
	b.Status = order.StatusOpen
	b.VolumeExecuted = decimal.RequireFromString("0.5")

	require.NoError(t, m.SaveOpenOrders([]*order.Order{a, b}))

	loaded, err := m.LoadOpenOrders()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byID := make(map[int64]*order.Order, 2)
	for _, o := range loaded {
		byID[o.ID] = o
	}
	require.Contains(t, byID, int64(1001))
	require.Contains(t, byID, int64(2002))

	got := byID[2002]
	assert.Equal(t, order.StatusOpen, got.Status)
	assert.Equal(t, order.PolicyBestLimit, got.Policy)
	assert.True(t, got.VolumeExecuted.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, got.VolumeRequested.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "BTC/USD", got.Input.Pair)

	// A later save replaces the snapshot entirely.
	require.NoError(t, m.SaveOpenOrders(nil))
	loaded, err = m.LoadOpenOrders()
	require.NoError(t, err)
	assert.Empty(t, loaded)
	require.NoError(t, m.Close())
}
