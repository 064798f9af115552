package coordinator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/obs"
	"main/pkg/exception"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := New(NewSharedState(), obs.NewMetrics(), Config{
		ChannelBuffer: 8,
		IdleDelay:     2 * time.Millisecond,
		StopTimeout:   200 * time.Millisecond,
	})
	t.Cleanup(func() { c.Stop("test cleanup") })
	return c
}

func recvKind(t *testing.T, end bus.Endpoint, kind bus.Kind) bus.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		default:
		}
		m, err := end.Recv(t.Context())
		require.NoError(t, err)
		if m.Kind == kind {
			return m
		}
	}
}

func TestAttachConflictAndReattach(t *testing.T) {
	c := newTestCoordinator(t)

	end, err := c.Attach(t.Context(), bus.Role(1))
	require.NoError(t, err)

	// Same role while the first channel is up.
	_, err = c.Attach(t.Context(), bus.Role(1))
	require.Error(t, err)
	assert.True(t, exception.IsRegistrationConflict(err))

	// After the worker goes away the role can register again.
	end.Shutdown("worker exit")
	require.Eventually(t, func() bool {
		_, err := c.Attach(t.Context(), bus.Role(1))
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestFeeAndBalanceBroadcast(t *testing.T) {
	c := newTestCoordinator(t)

	orderEnd, err := c.Attach(t.Context(), bus.RoleOrderWorker)
	require.NoError(t, err)
	strat1, err := c.Attach(t.Context(), bus.Role(1))
	require.NoError(t, err)
	strat2, err := c.Attach(t.Context(), bus.Role(2))
	require.NoError(t, err)

	fees := map[string]decimal.Decimal{"BTC/USD": decimal.RequireFromString("0.0026")}
	require.NoError(t, orderEnd.Send(t.Context(), bus.Message{Kind: bus.KindFees, Fees: fees}))

	m := recvKind(t, strat1, bus.KindFees)
	assert.True(t, m.Fees["BTC/USD"].Equal(decimal.RequireFromString("0.0026")))
	recvKind(t, strat2, bus.KindFees)

	// The shared state holds the broadcast values.
	require.Eventually(t, func() bool {
		rate, ok := c.State().Fees()["BTC/USD"]
		return ok && rate.Equal(decimal.RequireFromString("0.0026"))
	}, time.Second, 5*time.Millisecond)

	balances := map[string]decimal.Decimal{"USD": decimal.NewFromInt(5000)}
	require.NoError(t, orderEnd.Send(t.Context(), bus.Message{Kind: bus.KindBalance, Balances: balances}))
	m = recvKind(t, strat2, bus.KindBalance)
	assert.True(t, m.Balances["USD"].Equal(decimal.NewFromInt(5000)))
}

func TestFillRoutingByOrderID(t *testing.T) {
	c := newTestCoordinator(t)

	orderEnd, err := c.Attach(t.Context(), bus.RoleOrderWorker)
	require.NoError(t, err)
	strat7, err := c.Attach(t.Context(), bus.Role(7))
	require.NoError(t, err)
	perf, err := c.Attach(t.Context(), bus.RolePerformance)
	require.NoError(t, err)

	fill := &bus.Fill{OrderID: 42007, Pair: "BTC/USD", Volume: decimal.NewFromInt(1)}
	require.NoError(t, orderEnd.Send(t.Context(), bus.Message{Kind: bus.KindOrder, Fill: fill}))

	// Order 42007 belongs to strategy 7; performance gets a copy.
	m := recvKind(t, strat7, bus.KindOrder)
	require.NotNil(t, m.Fill)
	assert.Equal(t, int64(42007), m.Fill.OrderID)

	m = recvKind(t, perf, bus.KindOrder)
	require.NotNil(t, m.Fill)
	assert.Equal(t, int64(42007), m.Fill.OrderID)
}

func TestStatusCacheAndConsoleQuery(t *testing.T) {
	c := newTestCoordinator(t)

	orderEnd, err := c.Attach(t.Context(), bus.RoleOrderWorker)
	require.NoError(t, err)
	console, err := c.Attach(t.Context(), bus.RoleConsole)
	require.NoError(t, err)

	require.NoError(t, orderEnd.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "order_worker"}))
	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "console"}))

	status := &bus.Status{OrdersOpen: 3, OrdersClosed: 12, FeeTier: "starter"}
	require.NoError(t, orderEnd.Send(t.Context(), bus.Message{Kind: bus.KindStatusUpdate, Status: status}))

	// Query with an empty status payload; the reply carries the cached
	// report plus the known worker names.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		cached := c.lastStatus.OrdersOpen == 3
		c.mu.Unlock()
		return cached
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindStatusUpdate}))
	m := recvKind(t, console, bus.KindStatusUpdate)
	require.NotNil(t, m.Status)
	assert.Equal(t, 3, m.Status.OrdersOpen)
	assert.Equal(t, uint64(12), m.Status.OrdersClosed)
	assert.Contains(t, m.Status.Workers, "order_worker")
}

func TestRunningClientsReply(t *testing.T) {
	c := newTestCoordinator(t)

	console, err := c.Attach(t.Context(), bus.RoleConsole)
	require.NoError(t, err)
	strat, err := c.Attach(t.Context(), bus.Role(3))
	require.NoError(t, err)

	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "console"}))
	require.NoError(t, strat.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "momentum"}))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.names) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindRunningClients}))
	m := recvKind(t, console, bus.KindRunningClients)
	assert.ElementsMatch(t, []string{"console", "momentum"}, m.Targets)
}

func TestNamedStopReachesTargetOnly(t *testing.T) {
	c := newTestCoordinator(t)

	console, err := c.Attach(t.Context(), bus.RoleConsole)
	require.NoError(t, err)
	momentum, err := c.Attach(t.Context(), bus.Role(1))
	require.NoError(t, err)
	carry, err := c.Attach(t.Context(), bus.Role(2))
	require.NoError(t, err)

	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "console"}))
	require.NoError(t, momentum.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "momentum"}))
	require.NoError(t, carry.Send(t.Context(), bus.Message{Kind: bus.KindName, Name: "carry"}))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.names) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindStop, Targets: []string{"momentum"}}))

	// The named worker stops; everything else stays up.
	require.Eventually(t, func() bool {
		_, ok := momentum.Next(t.Context())
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, momentum.Up())
	assert.True(t, carry.Up())
	assert.True(t, console.Up())
	assert.False(t, c.State().Stopped())
}

func TestGlobalStop(t *testing.T) {
	c := newTestCoordinator(t)

	console, err := c.Attach(t.Context(), bus.RoleConsole)
	require.NoError(t, err)
	strat, err := c.Attach(t.Context(), bus.Role(1))
	require.NoError(t, err)

	require.NoError(t, console.Send(t.Context(), bus.Message{Kind: bus.KindStop, Targets: []string{bus.StopAll}}))

	require.Eventually(t, func() bool {
		return c.State().Stopped()
	}, time.Second, 5*time.Millisecond)

	// Every worker either receives the stop or finds its link down.
	require.Eventually(t, func() bool {
		_, ok := strat.Next(t.Context())
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, strat.Up())
}
