// Package store persists the order-id sequence counter and snapshots of
// not-yet-closed orders for order-worker rehydration.
package store

import (
	"sync"

	"github.com/bytedance/sonic"

	"main/internal/order"
)

// Store is the persistence boundary of the order worker. Allocation is
// owned by a single worker, so implementations do plain read-modify-
// write without cross-process locking.
type Store interface {
	// NextOrderSequence advances and returns the persisted sequence
	// counter, wrapping at the 32-bit-safe ceiling.
	NextOrderSequence() (int64, error)
	// SaveOpenOrders replaces the snapshot of not-yet-closed orders.
	SaveOpenOrders(orders []*order.Order) error
	// LoadOpenOrders rehydrates the snapshot.
	LoadOpenOrders() ([]*order.Order, error)
	Close() error
}

// Memory is an in-process Store for tests and simulate runs.
type Memory struct {
	mu     sync.Mutex
	seq    int64
	orders map[int64][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[int64][]byte)}
}

// NextOrderSequence implements Store.
func (m *Memory) NextOrderSequence() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = order.NextSequence(m.seq)
	return m.seq, nil
}

// SetSequence seeds the counter, for tests.
func (m *Memory) SetSequence(seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = seq
}

// SaveOpenOrders implements Store.
func (m *Memory) SaveOpenOrders(orders []*order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[int64][]byte, len(orders))
	for _, o := range orders {
		payload, err := sonic.Marshal(o)
		if err != nil {
			return err
		}
		m.orders[o.ID] = payload
	}
	return nil
}

// LoadOpenOrders implements Store.
func (m *Memory) LoadOpenOrders() ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*order.Order, 0, len(m.orders))
	for _, payload := range m.orders {
		var o order.Order
		if err := sonic.Unmarshal(payload, &o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
