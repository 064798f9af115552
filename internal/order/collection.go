package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// Collection indexes orders by lifecycle bucket for priority processing.
// Every tracked id lives in exactly one bucket, derived solely from the
// order status: unsubmitted/canceled -> waiting, open -> open,
// closed -> closed. Retrieval serves waiting before open before closed,
// FIFO within each bucket.
type Collection struct {
	orders  map[int64]*Order
	waiting []int64
	open    []int64
	closed  []int64
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{orders: make(map[int64]*Order)}
}

// Len returns the number of tracked orders.
func (c *Collection) Len() int {
	return len(c.orders)
}

// Get returns a tracked order without removing it.
func (c *Collection) Get(id int64) (*Order, bool) {
	o, ok := c.orders[id]
	return o, ok
}

// Append inserts the order into the bucket matching its current status.
// Re-appending a tracked id moves it to the back of its current bucket.
func (c *Collection) Append(o *Order) {
	if _, ok := c.orders[o.ID]; ok {
		c.detach(o.ID)
	}
	c.orders[o.ID] = o
	c.attach(o)
}

// Pop removes and returns the order with the given id. An id no bucket
// tracks is data corruption.
func (c *Collection) Pop(id int64) (*Order, error) {
	o, ok := c.orders[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderNotTracked, "id %d", id)
	}
	delete(c.orders, id)
	c.detach(id)
	return o, nil
}

// PopFirst removes and returns the highest-priority order.
func (c *Collection) PopFirst() (*Order, bool) {
	id, ok := c.first()
	if !ok {
		return nil, false
	}
	o, err := c.Pop(id)
	if err != nil {
		return nil, false
	}
	return o, true
}

// GetFirst peeks the highest-priority order without removing it.
func (c *Collection) GetFirst() (*Order, bool) {
	id, ok := c.first()
	if !ok {
		return nil, false
	}
	return c.orders[id], true
}

// Update bulk-merges orders and other collections, then recomputes all
// bucket membership from current statuses. Idempotent.
func (c *Collection) Update(orders []*Order, others ...*Collection) {
	for _, o := range orders {
		if o == nil {
			continue
		}
		c.orders[o.ID] = o
	}
	for _, other := range others {
		if other == nil {
			continue
		}
		for id, o := range other.orders {
			c.orders[id] = o
		}
	}
	c.rebuild()
}

// Waiting returns the waiting bucket ids in FIFO order.
func (c *Collection) Waiting() []int64 {
	return append([]int64(nil), c.waiting...)
}

// Open returns the open bucket ids in FIFO order.
func (c *Collection) Open() []int64 {
	return append([]int64(nil), c.open...)
}

// Closed returns the closed bucket ids in FIFO order.
func (c *Collection) Closed() []int64 {
	return append([]int64(nil), c.closed...)
}

// NotClosed returns every order that is not yet closed, for snapshot
// persistence.
func (c *Collection) NotClosed() []*Order {
	out := make([]*Order, 0, len(c.waiting)+len(c.open))
	for _, id := range c.waiting {
		out = append(out, c.orders[id])
	}
	for _, id := range c.open {
		out = append(out, c.orders[id])
	}
	return out
}

// Equal reports whether both collections track the same ids in the same
// buckets. Diagnostics only.
func (c *Collection) Equal(other *Collection) bool {
	if other == nil || len(c.orders) != len(other.orders) {
		return false
	}
	for id := range c.orders {
		if _, ok := other.orders[id]; !ok {
			return false
		}
	}
	return equalIDs(c.waiting, other.waiting) &&
		equalIDs(c.open, other.open) &&
		equalIDs(c.closed, other.closed)
}

// String renders bucket membership. Diagnostics only.
func (c *Collection) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "waiting=%v open=%v closed=%v", c.waiting, c.open, c.closed)
	return b.String()
}

func (c *Collection) first() (int64, bool) {
	switch {
	case len(c.waiting) > 0:
		return c.waiting[0], true
	case len(c.open) > 0:
		return c.open[0], true
	case len(c.closed) > 0:
		return c.closed[0], true
	default:
		return 0, false
	}
}

func (c *Collection) attach(o *Order) {
	switch o.Status {
	case StatusOpen:
		c.open = append(c.open, o.ID)
	case StatusClosed:
		c.closed = append(c.closed, o.ID)
	default:
		c.waiting = append(c.waiting, o.ID)
	}
}

func (c *Collection) detach(id int64) {
	c.waiting = removeID(c.waiting, id)
	c.open = removeID(c.open, id)
	c.closed = removeID(c.closed, id)
}

// rebuild recomputes every bucket from order statuses, keeping a stable
// id order so repeated updates stay deterministic.
func (c *Collection) rebuild() {
	ids := make([]int64, 0, len(c.orders))
	seen := make(map[int64]bool, len(c.orders))
	for _, id := range append(append(append([]int64(nil), c.waiting...), c.open...), c.closed...) {
		if _, ok := c.orders[id]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	fresh := make([]int64, 0, len(c.orders))
	for id := range c.orders {
		if !seen[id] {
			fresh = append(fresh, id)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	ids = append(ids, fresh...)

	c.waiting = c.waiting[:0]
	c.open = c.open[:0]
	c.closed = c.closed[:0]
	for _, id := range ids {
		c.attach(c.orders[id])
	}
}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
