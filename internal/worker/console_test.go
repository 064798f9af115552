package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
)

func TestConsoleCommandsAndReplies(t *testing.T) {
	ch, coord := strategyChannel(t, bus.RoleConsole)

	statuses := make(chan bus.Status, 1)
	clients := make(chan []string, 1)
	c := NewConsole(ch.WorkerEnd(),
		func(s bus.Status) { statuses <- s },
		func(names []string) { clients <- names },
	)

	done := make(chan error, 1)
	go func() { done <- c.Run(t.Context()) }()

	m, err := coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindName, m.Kind)
	assert.Equal(t, "console", m.Name)

	// Commands surface on the coordinator side with the right tags.
	require.NoError(t, c.RequestStatus(t.Context()))
	m, err = coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindStatusUpdate, m.Kind)
	assert.Nil(t, m.Status)

	require.NoError(t, c.RequestRunning(t.Context()))
	m, err = coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindRunningClients, m.Kind)

	require.NoError(t, c.Start(t.Context(), "momentum"))
	m, err = coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindStart, m.Kind)
	assert.Equal(t, "momentum", m.Name)

	require.NoError(t, c.StopWorkers(t.Context(), "momentum", "carry"))
	m, err = coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindStop, m.Kind)
	assert.Equal(t, []string{"momentum", "carry"}, m.Targets)

	// Replies reach the callbacks.
	require.NoError(t, coord.Send(t.Context(), bus.Message{
		Kind:   bus.KindStatusUpdate,
		Status: &bus.Status{OrdersOpen: 2, FeeTier: "starter"},
	}))
	select {
	case s := <-statuses:
		assert.Equal(t, 2, s.OrdersOpen)
		assert.Equal(t, "starter", s.FeeTier)
	case <-time.After(5 * time.Second):
		t.Fatal("status reply not delivered")
	}

	require.NoError(t, coord.Send(t.Context(), bus.Message{
		Kind:    bus.KindRunningClients,
		Targets: []string{"order_worker", "console"},
	}))
	select {
	case names := <-clients:
		assert.Equal(t, []string{"order_worker", "console"}, names)
	case <-time.After(5 * time.Second):
		t.Fatal("client list not delivered")
	}

	require.NoError(t, c.StopAll(t.Context()))
	m, err = coord.Recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, bus.KindStop, m.Kind)
	assert.Equal(t, []string{bus.StopAll}, m.Targets)

	require.NoError(t, coord.Send(t.Context(), bus.Message{Kind: bus.KindStop}))
	require.NoError(t, <-done)
}
